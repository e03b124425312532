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

package fake

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"sync"

	"github.com/edwinnab/vm-network-migration/pkg/provider"
	"google.golang.org/api/compute/v1"
	"k8s.io/klog/v2"
)

// Method names a Provider call, used to inject failures and inspect calls.
type Method string

const (
	InsertAddress      Method = "InsertAddress"
	GetRegionOperation Method = "GetRegionOperation"
	GetZoneOperation   Method = "GetZoneOperation"
	GetInstance        Method = "GetInstance"
	InsertInstance     Method = "InsertInstance"
	DeleteInstance     Method = "DeleteInstance"
	StopInstance       Method = "StopInstance"
	StartInstance      Method = "StartInstance"
	DetachDisk         Method = "DetachDisk"
	AttachDisk         Method = "AttachDisk"
	GetNetwork         Method = "GetNetwork"
	GetZone            Method = "GetZone"
)

// Call records a single Provider invocation.
type Call struct {
	Method Method
	// Target is the name of the resource the call acted on.
	Target string
}

// FakeProvider is an in-memory implementation of provider.Provider. Every
// operation it returns is already DONE unless OperationErrors says otherwise.
type FakeProvider struct {
	mu sync.Mutex

	// Errors makes the given method fail with the error before touching any state.
	Errors map[Method]error
	// OperationErrors makes the operation returned by the given method finish
	// with the given error codes.
	OperationErrors map[Method][]string

	instances map[string]*compute.Instance // keyed by zone/name
	networks  map[string]*compute.Network
	zones     map[string]*compute.Zone
	addresses map[string]*compute.Address // keyed by region/name
	ops       map[string]*compute.Operation
	calls     []Call
	opCounter int
}

var _ provider.Provider = &FakeProvider{}

// NewFakeProvider creates an empty FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Errors:          make(map[Method]error),
		OperationErrors: make(map[Method][]string),
		instances:       make(map[string]*compute.Instance),
		networks:        make(map[string]*compute.Network),
		zones:           make(map[string]*compute.Zone),
		addresses:       make(map[string]*compute.Address),
		ops:             make(map[string]*compute.Operation),
	}
}

// AddInstance stores an instance in the given zone.
func (p *FakeProvider) AddInstance(zone string, instance *compute.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[zone+"/"+instance.Name] = instance
}

// AddNetwork stores a network.
func (p *FakeProvider) AddNetwork(network *compute.Network) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.networks[network.Name] = network
}

// AddZone stores a zone.
func (p *FakeProvider) AddZone(zone *compute.Zone) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zones[zone.Name] = zone
}

// AddAddress stores a pre-existing static address reservation.
func (p *FakeProvider) AddAddress(region string, address *compute.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[region+"/"+address.Name] = address
}

// Instance returns a stored instance, or nil.
func (p *FakeProvider) Instance(zone, name string) *compute.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instances[zone+"/"+name]
}

// Address returns a stored address reservation, or nil.
func (p *FakeProvider) Address(region, name string) *compute.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addresses[region+"/"+name]
}

// Calls returns every recorded invocation in order.
func (p *FakeProvider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how often a method was invoked.
func (p *FakeProvider) CallCount(m Method) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Method == m {
			n++
		}
	}
	return n
}

// record must be called with p.mu held.
func (p *FakeProvider) record(m Method, target string) error {
	p.calls = append(p.calls, Call{Method: m, Target: target})
	return p.Errors[m]
}

// newOperation must be called with p.mu held.
func (p *FakeProvider) newOperation(m Method, target string) *compute.Operation {
	p.opCounter++
	op := &compute.Operation{
		Name:          fmt.Sprintf("operation-%d", p.opCounter),
		OperationType: string(m),
		TargetLink:    target,
		Status:        string(provider.StatusDone),
	}
	if codes := p.OperationErrors[m]; len(codes) > 0 {
		op.Error = &compute.OperationError{}
		for _, code := range codes {
			op.Error.Errors = append(op.Error.Errors, &compute.OperationErrorErrors{Code: code, Message: fmt.Sprintf("%s failed", m)})
		}
	}
	p.ops[op.Name] = op
	return op
}

func notFound(kind, name string) error {
	return &provider.Error{
		Kind:    provider.ErrorKindNotFound,
		Code:    http.StatusNotFound,
		Reason:  "notFound",
		Message: fmt.Sprintf("The resource '%s/%s' was not found", kind, name),
	}
}

// InsertAddress reserves an address, rejecting duplicate names and duplicate IP literals.
func (p *FakeProvider) InsertAddress(_ context.Context, project, region string, address *compute.Address) (*compute.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.record(InsertAddress, address.Name); err != nil {
		return nil, err
	}
	if address.Address != "" {
		if _, err := netip.ParseAddr(address.Address); err != nil {
			return nil, &provider.Error{Kind: provider.ErrorKindOther, Code: http.StatusBadRequest, Reason: "invalid", Message: fmt.Sprintf("invalid IP address %q", address.Address)}
		}
	}

	key := region + "/" + address.Name
	if _, exists := p.addresses[key]; exists {
		return nil, &provider.Error{
			Kind:    provider.ErrorKindNameInUse,
			Code:    http.StatusConflict,
			Reason:  "alreadyExists",
			Message: fmt.Sprintf("The resource 'projects/%s/regions/%s/addresses/%s' already exists", project, region, address.Name),
		}
	}
	for k, existing := range p.addresses {
		if address.Address != "" && existing.Address == address.Address {
			return nil, &provider.Error{
				Kind:    provider.ErrorKindAddressInUse,
				Code:    http.StatusBadRequest,
				Reason:  "invalid",
				Message: fmt.Sprintf("IP address %s is already reserved as %s", address.Address, k),
			}
		}
	}

	reserved := *address
	reserved.Region = region
	reserved.Status = "RESERVED"
	p.addresses[key] = &reserved
	klog.V(4).Infof("Reserved fake address %s (%s)", key, address.Address)
	return p.newOperation(InsertAddress, key), nil
}

// GetRegionOperation returns an operation created by this provider.
func (p *FakeProvider) GetRegionOperation(_ context.Context, _, _, operation string) (*compute.Operation, error) {
	return p.getOperation(GetRegionOperation, operation)
}

// GetZoneOperation returns an operation created by this provider.
func (p *FakeProvider) GetZoneOperation(_ context.Context, _, _, operation string) (*compute.Operation, error) {
	return p.getOperation(GetZoneOperation, operation)
}

func (p *FakeProvider) getOperation(m Method, name string) (*compute.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(m, name); err != nil {
		return nil, err
	}
	op, ok := p.ops[name]
	if !ok {
		return nil, notFound("operations", name)
	}
	return op, nil
}

// GetInstance returns a copy of a stored instance.
func (p *FakeProvider) GetInstance(_ context.Context, _, zone, instance string) (*compute.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(GetInstance, instance); err != nil {
		return nil, err
	}
	inst, ok := p.instances[zone+"/"+instance]
	if !ok {
		return nil, notFound("instances", instance)
	}
	cp := *inst
	cp.NetworkInterfaces = append([]*compute.NetworkInterface(nil), inst.NetworkInterfaces...)
	cp.Disks = append([]*compute.AttachedDisk(nil), inst.Disks...)
	return &cp, nil
}

// InsertInstance stores a new instance in RUNNING state.
func (p *FakeProvider) InsertInstance(_ context.Context, _, zone string, instance *compute.Instance) (*compute.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(InsertInstance, instance.Name); err != nil {
		return nil, err
	}
	key := zone + "/" + instance.Name
	if _, exists := p.instances[key]; exists {
		return nil, &provider.Error{Kind: provider.ErrorKindNameInUse, Code: http.StatusConflict, Reason: "alreadyExists", Message: fmt.Sprintf("The resource '%s' already exists", key)}
	}
	created := *instance
	created.Status = "RUNNING"
	p.instances[key] = &created
	return p.newOperation(InsertInstance, key), nil
}

// DeleteInstance removes a stored instance.
func (p *FakeProvider) DeleteInstance(_ context.Context, _, zone, instance string) (*compute.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(DeleteInstance, instance); err != nil {
		return nil, err
	}
	key := zone + "/" + instance
	if _, ok := p.instances[key]; !ok {
		return nil, notFound("instances", instance)
	}
	delete(p.instances, key)
	return p.newOperation(DeleteInstance, key), nil
}

// StopInstance marks an instance TERMINATED. Ephemeral external IPs are
// released; a NAT IP held by a stored address stays on the instance.
func (p *FakeProvider) StopInstance(_ context.Context, _, zone, instance string) (*compute.Operation, error) {
	return p.update(StopInstance, zone, instance, func(inst *compute.Instance) {
		inst.Status = "TERMINATED"
		inst.NetworkInterfaces = p.releaseEphemeralIPs(inst.NetworkInterfaces)
	})
}

// StartInstance marks an instance RUNNING.
func (p *FakeProvider) StartInstance(_ context.Context, _, zone, instance string) (*compute.Operation, error) {
	return p.update(StartInstance, zone, instance, func(inst *compute.Instance) {
		inst.Status = "RUNNING"
	})
}

func (p *FakeProvider) update(m Method, zone, instance string, mutate func(*compute.Instance)) (*compute.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(m, instance); err != nil {
		return nil, err
	}
	inst, ok := p.instances[zone+"/"+instance]
	if !ok {
		return nil, notFound("instances", instance)
	}
	mutate(inst)
	return p.newOperation(m, zone+"/"+instance), nil
}

// releaseEphemeralIPs must be called with p.mu held. It returns copies so
// instances handed out by GetInstance keep their view.
func (p *FakeProvider) releaseEphemeralIPs(ifaces []*compute.NetworkInterface) []*compute.NetworkInterface {
	reserved := make(map[string]bool, len(p.addresses))
	for _, a := range p.addresses {
		reserved[a.Address] = true
	}
	released := make([]*compute.NetworkInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		cp := *iface
		cp.AccessConfigs = nil
		for _, ac := range iface.AccessConfigs {
			acCopy := *ac
			if !reserved[acCopy.NatIP] {
				acCopy.NatIP = ""
			}
			cp.AccessConfigs = append(cp.AccessConfigs, &acCopy)
		}
		released = append(released, &cp)
	}
	return released
}

// DetachDisk removes the disk with the given device name from an instance.
func (p *FakeProvider) DetachDisk(_ context.Context, _, zone, instance, deviceName string) (*compute.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(DetachDisk, deviceName); err != nil {
		return nil, err
	}
	inst, ok := p.instances[zone+"/"+instance]
	if !ok {
		return nil, notFound("instances", instance)
	}
	disks := make([]*compute.AttachedDisk, 0, len(inst.Disks))
	found := false
	for _, d := range inst.Disks {
		if d.DeviceName == deviceName {
			found = true
			continue
		}
		disks = append(disks, d)
	}
	if !found {
		return nil, notFound("disks", deviceName)
	}
	inst.Disks = disks
	return p.newOperation(DetachDisk, zone+"/"+instance), nil
}

// AttachDisk appends a disk to an instance.
func (p *FakeProvider) AttachDisk(_ context.Context, _, zone, instance string, disk *compute.AttachedDisk) (*compute.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(AttachDisk, disk.DeviceName); err != nil {
		return nil, err
	}
	inst, ok := p.instances[zone+"/"+instance]
	if !ok {
		return nil, notFound("instances", instance)
	}
	inst.Disks = append(inst.Disks, disk)
	return p.newOperation(AttachDisk, zone+"/"+instance), nil
}

// GetNetwork returns a stored network.
func (p *FakeProvider) GetNetwork(_ context.Context, _, network string) (*compute.Network, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(GetNetwork, network); err != nil {
		return nil, err
	}
	n, ok := p.networks[network]
	if !ok {
		return nil, notFound("networks", network)
	}
	return n, nil
}

// GetZone returns a stored zone.
func (p *FakeProvider) GetZone(_ context.Context, _, zone string) (*compute.Zone, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(GetZone, zone); err != nil {
		return nil, err
	}
	z, ok := p.zones[zone]
	if !ok {
		return nil, notFound("zones", zone)
	}
	return z, nil
}
