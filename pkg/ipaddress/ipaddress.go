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

// Package ipaddress rebuilds the network interface of a migrated instance and
// decides whether its external IP address survives the migration.
//
// Only the external IP can be preserved. The internal IP and alias IP ranges
// of the original interface are never carried over.
package ipaddress

import (
	"context"
	"strings"

	"github.com/edwinnab/vm-network-migration/pkg/metrics"
	"github.com/edwinnab/vm-network-migration/pkg/provider"
	"google.golang.org/api/compute/v1"
	"k8s.io/klog/v2"
)

const (
	reservationSuffix = "-external-ip"
	// maxNameLength is the RFC1035 limit Compute Engine enforces on resource names.
	maxNameLength = 63

	defaultAccessConfigName = "External NAT"
	accessConfigTypeNAT     = "ONE_TO_ONE_NAT"
	addressTypeExternal     = "EXTERNAL"
)

// Outcome records what happened to the external IP of the original interface.
type Outcome string

const (
	// OutcomeNotRequested means preservation was not requested; the new instance gets no access config.
	OutcomeNotRequested Outcome = "NotRequested"
	// OutcomeNoExternalIP means the original interface had no external IP to preserve.
	OutcomeNoExternalIP Outcome = "NoExternalIP"
	// OutcomeReserved means a new static reservation was created for the IP.
	OutcomeReserved Outcome = "Reserved"
	// OutcomeAddressAlreadyReserved means the IP literal was already reserved under some name.
	OutcomeAddressAlreadyReserved Outcome = "AddressAlreadyReserved"
	// OutcomeNameAlreadyReserved means the reservation name was taken, assumed by an earlier attempt.
	OutcomeNameAlreadyReserved Outcome = "NameAlreadyReserved"
	// OutcomeDegraded means the reservation failed and the new instance falls back to no external IP.
	OutcomeDegraded Outcome = "Degraded"
)

// Preserved reports whether the rebuilt interface keeps the original external IP.
func (o Outcome) Preserved() bool {
	return o == OutcomeReserved || o == OutcomeAddressAlreadyReserved || o == OutcomeNameAlreadyReserved
}

// TargetNetwork references the network, and optionally the subnetwork, the
// instance moves to.
type TargetNetwork struct {
	Network    string
	Subnetwork string
}

// Request carries the inputs of a single preservation decision.
type Request struct {
	Project         string
	Region          string
	NewInstanceName string
	Target          TargetNetwork
	// Original is the network interface of the instance being migrated away from.
	Original           *compute.NetworkInterface
	PreserveExternalIP bool
}

// Handler builds new network interfaces, reserving static external
// addresses through Reserver when asked to.
type Handler struct {
	Reserver provider.AddressReserver
	Wait     provider.WaitOptions
}

// NewHandler creates a Handler.
func NewHandler(reserver provider.AddressReserver, wait provider.WaitOptions) *Handler {
	metrics.RegisterMetrics()
	return &Handler{Reserver: reserver, Wait: wait}
}

// PreserveIPAddresses builds the network interface for newInstanceName on the
// target network. It never fails: when the external IP cannot be reserved the
// returned interface simply has no access config.
func PreserveIPAddresses(ctx context.Context, reserver provider.AddressReserver, project, newInstanceName string, target TargetNetwork, original *compute.NetworkInterface, region string, preserveExternalIP bool) *compute.NetworkInterface {
	iface, _ := NewHandler(reserver, provider.WaitOptions{}).Preserve(ctx, Request{
		Project:            project,
		Region:             region,
		NewInstanceName:    newInstanceName,
		Target:             target,
		Original:           original,
		PreserveExternalIP: preserveExternalIP,
	})
	return iface
}

// Preserve builds the network interface described by req and reports what
// happened to the external IP.
func (h *Handler) Preserve(ctx context.Context, req Request) (*compute.NetworkInterface, Outcome) {
	iface := &compute.NetworkInterface{
		Network:    req.Target.Network,
		Subnetwork: req.Target.Subnetwork,
	}

	outcome := h.preserveExternalIP(ctx, req, iface)
	metrics.ReservationsTotal.WithLabelValues(string(outcome)).Inc()
	return iface, outcome
}

func (h *Handler) preserveExternalIP(ctx context.Context, req Request, iface *compute.NetworkInterface) Outcome {
	if !req.PreserveExternalIP {
		klog.V(2).Infof("External IP of %s will be ephemeral", req.NewInstanceName)
		return OutcomeNotRequested
	}
	original := ExternalAccessConfig(req.Original)
	if original == nil {
		klog.Infof("Original interface has no external IP, nothing to preserve for %s", req.NewInstanceName)
		return OutcomeNoExternalIP
	}

	name := ReservationName(req.NewInstanceName)
	outcome, err := h.reserve(ctx, req, name, original.NatIP)
	if err != nil {
		klog.Warningf("Failed to reserve external IP %s as %s, %s will use an ephemeral external IP: %v", original.NatIP, name, req.NewInstanceName, err)
		return OutcomeDegraded
	}

	iface.AccessConfigs = []*compute.AccessConfig{newAccessConfig(original)}
	klog.Infof("Preserving external IP %s for %s (%s)", original.NatIP, req.NewInstanceName, outcome)
	return outcome
}

// reserve creates the static address and waits for it. Reservation conflicts
// are successes; any other failure is returned.
func (h *Handler) reserve(ctx context.Context, req Request, name, ip string) (Outcome, error) {
	address := &compute.Address{
		Name:        name,
		Address:     ip,
		AddressType: addressTypeExternal,
		Description: "External IP preserved by vm-network-migration for " + req.NewInstanceName,
	}

	op, err := h.Reserver.InsertAddress(ctx, req.Project, req.Region, address)
	if err == nil {
		_, err = provider.WaitForRegionOperation(ctx, h.Reserver, req.Project, req.Region, op, h.Wait)
	}

	switch provider.KindOf(err) {
	case provider.ErrorKindNone:
		return OutcomeReserved, nil
	case provider.ErrorKindAddressInUse:
		klog.V(2).Infof("External IP %s is already reserved: %v", ip, err)
		return OutcomeAddressAlreadyReserved, nil
	case provider.ErrorKindNameInUse:
		klog.V(2).Infof("Static address name %s is already in use: %v", name, err)
		return OutcomeNameAlreadyReserved, nil
	default:
		return OutcomeDegraded, err
	}
}

// ExternalAccessConfig returns the first access config of iface that carries
// an external IP, or nil.
func ExternalAccessConfig(iface *compute.NetworkInterface) *compute.AccessConfig {
	if iface == nil {
		return nil
	}
	for _, ac := range iface.AccessConfigs {
		if ac != nil && ac.NatIP != "" {
			return ac
		}
	}
	return nil
}

// ReservationName derives the static address name used for instanceName.
// The same instance name always yields the same reservation name.
func ReservationName(instanceName string) string {
	prefix := instanceName
	if limit := maxNameLength - len(reservationSuffix); len(prefix) > limit {
		prefix = strings.TrimRight(prefix[:limit], "-")
	}
	return prefix + reservationSuffix
}

func newAccessConfig(original *compute.AccessConfig) *compute.AccessConfig {
	ac := &compute.AccessConfig{
		Name:        original.Name,
		Type:        original.Type,
		NatIP:       original.NatIP,
		NetworkTier: original.NetworkTier,
	}
	if ac.Name == "" {
		ac.Name = defaultAccessConfigName
	}
	if ac.Type == "" {
		ac.Type = accessConfigTypeNAT
	}
	return ac
}
