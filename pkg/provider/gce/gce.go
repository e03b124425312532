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

package gce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/edwinnab/vm-network-migration/pkg/provider"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"k8s.io/klog/v2"
)

// GCEProvider is the Compute Engine implementation of the provider.Provider interface.
type GCEProvider struct {
	computeService *compute.Service
}

var _ provider.Provider = &GCEProvider{}

// NewGCEProvider creates a new GCEProvider. Without options the client uses
// Application Default Credentials.
func NewGCEProvider(ctx context.Context, opts ...option.ClientOption) (*GCEProvider, error) {
	computeService, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}
	return &GCEProvider{computeService: computeService}, nil
}

// InsertAddress reserves a static address in a region.
func (p *GCEProvider) InsertAddress(ctx context.Context, project, region string, address *compute.Address) (*compute.Operation, error) {
	op, err := p.computeService.Addresses.Insert(project, region, address).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("insert address %s", address.Name), err)
	}
	klog.V(2).Infof("Requested GCE address %s (%s) in %s, operation %s", address.Name, address.Address, region, op.Name)
	return op, nil
}

// GetRegionOperation returns a region operation.
func (p *GCEProvider) GetRegionOperation(ctx context.Context, project, region, operation string) (*compute.Operation, error) {
	op, err := p.computeService.RegionOperations.Get(project, region, operation).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("get region operation %s", operation), err)
	}
	return op, nil
}

// GetZoneOperation returns a zone operation.
func (p *GCEProvider) GetZoneOperation(ctx context.Context, project, zone, operation string) (*compute.Operation, error) {
	op, err := p.computeService.ZoneOperations.Get(project, zone, operation).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("get zone operation %s", operation), err)
	}
	return op, nil
}

// GetInstance returns an instance.
func (p *GCEProvider) GetInstance(ctx context.Context, project, zone, instance string) (*compute.Instance, error) {
	inst, err := p.computeService.Instances.Get(project, zone, instance).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("get instance %s", instance), err)
	}
	return inst, nil
}

// InsertInstance creates an instance.
func (p *GCEProvider) InsertInstance(ctx context.Context, project, zone string, instance *compute.Instance) (*compute.Operation, error) {
	op, err := p.computeService.Instances.Insert(project, zone, instance).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("insert instance %s", instance.Name), err)
	}
	klog.V(2).Infof("Requested GCE instance %s in %s, operation %s", instance.Name, zone, op.Name)
	return op, nil
}

// DeleteInstance deletes an instance.
func (p *GCEProvider) DeleteInstance(ctx context.Context, project, zone, instance string) (*compute.Operation, error) {
	op, err := p.computeService.Instances.Delete(project, zone, instance).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("delete instance %s", instance), err)
	}
	return op, nil
}

// StopInstance stops an instance.
func (p *GCEProvider) StopInstance(ctx context.Context, project, zone, instance string) (*compute.Operation, error) {
	op, err := p.computeService.Instances.Stop(project, zone, instance).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("stop instance %s", instance), err)
	}
	return op, nil
}

// StartInstance starts an instance.
func (p *GCEProvider) StartInstance(ctx context.Context, project, zone, instance string) (*compute.Operation, error) {
	op, err := p.computeService.Instances.Start(project, zone, instance).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("start instance %s", instance), err)
	}
	return op, nil
}

// DetachDisk detaches a disk from an instance by device name.
func (p *GCEProvider) DetachDisk(ctx context.Context, project, zone, instance, deviceName string) (*compute.Operation, error) {
	op, err := p.computeService.Instances.DetachDisk(project, zone, instance, deviceName).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("detach disk %s from %s", deviceName, instance), err)
	}
	return op, nil
}

// AttachDisk attaches an existing disk to an instance.
func (p *GCEProvider) AttachDisk(ctx context.Context, project, zone, instance string, disk *compute.AttachedDisk) (*compute.Operation, error) {
	op, err := p.computeService.Instances.AttachDisk(project, zone, instance, disk).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("attach disk %s to %s", disk.DeviceName, instance), err)
	}
	return op, nil
}

// GetNetwork returns a network.
func (p *GCEProvider) GetNetwork(ctx context.Context, project, network string) (*compute.Network, error) {
	n, err := p.computeService.Networks.Get(project, network).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("get network %s", network), err)
	}
	return n, nil
}

// GetZone returns a zone.
func (p *GCEProvider) GetZone(ctx context.Context, project, zone string) (*compute.Zone, error) {
	z, err := p.computeService.Zones.Get(project, zone).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("get zone %s", zone), err)
	}
	return z, nil
}

// classify converts a compute API failure into a *provider.Error.
func classify(action string, err error) error {
	perr := &provider.Error{Kind: provider.ErrorKindOther, Err: fmt.Errorf("failed to %s: %w", action, err)}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return perr
	}
	perr.Code = gerr.Code
	perr.Message = gerr.Message
	if len(gerr.Errors) > 0 {
		perr.Reason = gerr.Errors[0].Reason
		if perr.Message == "" {
			perr.Message = gerr.Errors[0].Message
		}
	}
	perr.Kind = kindFor(gerr.Code, perr.Reason, perr.Message)
	return perr
}

func kindFor(code int, reason, message string) provider.ErrorKind {
	msg := strings.ToLower(message)
	switch {
	case code == http.StatusNotFound || reason == "notFound":
		return provider.ErrorKindNotFound
	case reason == "ipInUse" || reason == "addressInUse" || mentionsAddressConflict(msg):
		return provider.ErrorKindAddressInUse
	case code == http.StatusConflict || reason == "alreadyExists" || strings.Contains(msg, "already exists"):
		return provider.ErrorKindNameInUse
	default:
		return provider.ErrorKindOther
	}
}

// mentionsAddressConflict matches the messages Compute Engine returns when the
// IP literal, rather than the resource name, is already taken.
func mentionsAddressConflict(msg string) bool {
	if strings.Contains(msg, "in use") || strings.Contains(msg, "in-use") {
		return strings.Contains(msg, "ip") || strings.Contains(msg, "address")
	}
	if strings.Contains(msg, "already exists") {
		return strings.Contains(msg, "ip address") || strings.Contains(msg, "ip literal")
	}
	return false
}
