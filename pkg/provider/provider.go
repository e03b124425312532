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

	"google.golang.org/api/compute/v1"
)

// OperationStatus is the lifecycle state of an asynchronous compute operation.
type OperationStatus string

const (
	// StatusPending indicates that the operation has been accepted but not started.
	StatusPending OperationStatus = "PENDING"
	// StatusRunning indicates that the operation is in progress.
	StatusRunning OperationStatus = "RUNNING"
	// StatusDone indicates that the operation reached a terminal state, successful or not.
	StatusDone OperationStatus = "DONE"
)

// AddressReserver is the part of the compute API needed to reserve static
// external addresses.
type AddressReserver interface {
	// InsertAddress requests a named, region scoped static address reservation.
	InsertAddress(ctx context.Context, project, region string, address *compute.Address) (*compute.Operation, error)
	// GetRegionOperation returns the current state of a region operation.
	GetRegionOperation(ctx context.Context, project, region, operation string) (*compute.Operation, error)
}

// Provider defines the contract for any compute backend a migration runs against.
type Provider interface {
	AddressReserver

	// GetInstance returns the full description of an instance.
	GetInstance(ctx context.Context, project, zone, instance string) (*compute.Instance, error)
	// InsertInstance creates an instance from the given description.
	InsertInstance(ctx context.Context, project, zone string, instance *compute.Instance) (*compute.Operation, error)
	// DeleteInstance deletes an instance.
	DeleteInstance(ctx context.Context, project, zone, instance string) (*compute.Operation, error)
	// StopInstance stops a running instance.
	StopInstance(ctx context.Context, project, zone, instance string) (*compute.Operation, error)
	// StartInstance starts a stopped instance.
	StartInstance(ctx context.Context, project, zone, instance string) (*compute.Operation, error)
	// DetachDisk detaches the disk with the given device name from an instance.
	DetachDisk(ctx context.Context, project, zone, instance, deviceName string) (*compute.Operation, error)
	// AttachDisk attaches an existing disk to an instance.
	AttachDisk(ctx context.Context, project, zone, instance string, disk *compute.AttachedDisk) (*compute.Operation, error)
	// GetNetwork returns a VPC network.
	GetNetwork(ctx context.Context, project, network string) (*compute.Network, error)
	// GetZone returns a zone, including the URL of its region.
	GetZone(ctx context.Context, project, zone string) (*compute.Zone, error)
	// GetZoneOperation returns the current state of a zone operation.
	GetZoneOperation(ctx context.Context, project, zone, operation string) (*compute.Operation, error)
}
