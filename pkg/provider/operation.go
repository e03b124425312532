/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/compute/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	DefaultPollInterval     = 1 * time.Second
	DefaultOperationTimeout = 5 * time.Minute
)

// WaitOptions bounds the poll loop used to wait for an operation.
type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultOperationTimeout
	}
	return o
}

// WaitForRegionOperation polls a region operation until it is DONE, the
// timeout expires or ctx is cancelled. An operation that finishes with errors
// is returned as an *OperationError.
func WaitForRegionOperation(ctx context.Context, r AddressReserver, project, region string, op *compute.Operation, opts WaitOptions) (*compute.Operation, error) {
	return waitForOperation(ctx, op, opts, func(ctx context.Context, name string) (*compute.Operation, error) {
		return r.GetRegionOperation(ctx, project, region, name)
	})
}

// WaitForZoneOperation is the zonal counterpart of WaitForRegionOperation.
func WaitForZoneOperation(ctx context.Context, p Provider, project, zone string, op *compute.Operation, opts WaitOptions) (*compute.Operation, error) {
	return waitForOperation(ctx, op, opts, func(ctx context.Context, name string) (*compute.Operation, error) {
		return p.GetZoneOperation(ctx, project, zone, name)
	})
}

func waitForOperation(ctx context.Context, op *compute.Operation, opts WaitOptions, get func(context.Context, string) (*compute.Operation, error)) (*compute.Operation, error) {
	if op == nil {
		return nil, fmt.Errorf("no operation to wait for")
	}
	if OperationStatus(op.Status) == StatusDone {
		return op, ClassifyOperation(op)
	}

	opts = opts.withDefaults()
	name := op.Name
	klog.V(2).Infof("Waiting for operation %s to finish...", name)
	startTime := time.Now()

	current := op
	err := wait.PollUntilContextTimeout(ctx, opts.Interval, opts.Timeout, true, func(ctx context.Context) (bool, error) {
		latest, err := get(ctx, name)
		if err != nil {
			return false, err
		}
		current = latest
		return OperationStatus(latest.Status) == StatusDone, nil
	})
	if err != nil {
		return current, fmt.Errorf("waiting for operation %s: %w", name, err)
	}
	klog.V(2).Infof("Operation %s is done, took %v", name, time.Since(startTime))
	return current, ClassifyOperation(current)
}

// ClassifyOperation returns an *OperationError if a finished operation carries
// errors, and nil otherwise.
func ClassifyOperation(op *compute.Operation) error {
	if op == nil || op.Error == nil || len(op.Error.Errors) == 0 {
		return nil
	}
	operr := &OperationError{Operation: op.Name, Kind: ErrorKindOther}
	for _, e := range op.Error.Errors {
		if e == nil {
			continue
		}
		operr.Codes = append(operr.Codes, e.Code)
		operr.Messages = append(operr.Messages, e.Message)
		if k := kindForOperationCode(e.Code); operr.Kind == ErrorKindOther {
			operr.Kind = k
		}
	}
	return operr
}

func kindForOperationCode(code string) ErrorKind {
	switch {
	case code == "RESOURCE_ALREADY_EXISTS", code == "ALREADY_EXISTS":
		return ErrorKindNameInUse
	case strings.Contains(code, "IP_IN_USE"), code == "ADDRESS_IN_USE":
		return ErrorKindAddressInUse
	case code == "RESOURCE_NOT_FOUND", code == "NOT_FOUND":
		return ErrorKindNotFound
	default:
		return ErrorKindOther
	}
}
