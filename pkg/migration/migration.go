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

// Package migration moves an instance to another VPC network by re-creating
// it: the original is stopped, its disks are detached and reused by a new
// instance attached to the target network, and the original is deleted.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/edwinnab/vm-network-migration/pkg/ipaddress"
	"github.com/edwinnab/vm-network-migration/pkg/metrics"
	"github.com/edwinnab/vm-network-migration/pkg/provider"
	"google.golang.org/api/compute/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
)

// RollbackTimeout bounds the rollback of the original instance after a
// failed migration. It applies even when the migration itself was cancelled.
const RollbackTimeout = 10 * time.Minute

// Options describes a single migration.
type Options struct {
	Project          string
	Zone             string
	OriginalInstance string
	NewInstance      string
	Network          string
	// Subnetwork may be empty for auto mode networks.
	Subnetwork         string
	PreserveExternalIP bool
}

// Validate checks that the options name a usable migration.
func (o Options) Validate() error {
	required := []struct{ name, value string }{
		{"project", o.Project},
		{"zone", o.Zone},
		{"original instance name", o.OriginalInstance},
		{"new instance name", o.NewInstance},
		{"network", o.Network},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s must be specified", r.name)
		}
	}
	if o.NewInstance == o.OriginalInstance {
		return ErrSameInstanceName
	}
	return nil
}

// Migrator runs migrations against a compute Provider.
type Migrator struct {
	provider provider.Provider
	handler  *ipaddress.Handler
	wait     provider.WaitOptions
}

// NewMigrator creates a Migrator.
func NewMigrator(p provider.Provider, wait provider.WaitOptions) *Migrator {
	metrics.RegisterMetrics()
	return &Migrator{
		provider: p,
		handler:  ipaddress.NewHandler(p, wait),
		wait:     wait,
	}
}

// Migrate moves opts.OriginalInstance to the target network as opts.NewInstance.
func (m *Migrator) Migrate(ctx context.Context, opts Options) (err error) {
	startTime := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.MigrationsTotal.WithLabelValues(result).Inc()
		metrics.MigrationDuration.Observe(time.Since(startTime).Seconds())
		klog.V(2).Infof("Migration of %s to %s took %v", opts.OriginalInstance, opts.NewInstance, time.Since(startTime))
	}()

	if err := opts.Validate(); err != nil {
		return err
	}

	if _, err := m.provider.GetInstance(ctx, opts.Project, opts.Zone, opts.NewInstance); err == nil {
		return fmt.Errorf("instance %s: %w", opts.NewInstance, ErrInstanceExists)
	} else if !provider.IsNotFound(err) {
		return fmt.Errorf("failed to check instance %s: %w", opts.NewInstance, err)
	}

	network, err := m.provider.GetNetwork(ctx, opts.Project, opts.Network)
	if err != nil {
		return fmt.Errorf("failed to get network %s: %w", opts.Network, err)
	}
	subnetwork, err := resolveSubnetwork(network, opts.Subnetwork)
	if err != nil {
		return err
	}

	regionURL, region, err := regionFromZone(ctx, m.provider, opts.Project, opts.Zone)
	if err != nil {
		return err
	}

	original, err := m.provider.GetInstance(ctx, opts.Project, opts.Zone, opts.OriginalInstance)
	if err != nil {
		return fmt.Errorf("failed to get instance %s: %w", opts.OriginalInstance, err)
	}
	if _, err := DiskDeviceNames(original); err != nil {
		return err
	}
	if len(original.NetworkInterfaces) == 0 {
		return fmt.Errorf("instance %s networkInterfaces: %w", original.Name, ErrAttributeNotExist)
	}

	// An ephemeral external IP is released when the instance stops, so it is
	// reserved while the original still holds it.
	target := targetNetwork(network, regionURL, subnetwork)
	iface, outcome := m.handler.Preserve(ctx, ipaddress.Request{
		Project:            opts.Project,
		Region:             region,
		NewInstanceName:    opts.NewInstance,
		Target:             target,
		Original:           original.NetworkInterfaces[0],
		PreserveExternalIP: opts.PreserveExternalIP,
	})
	if opts.PreserveExternalIP && !outcome.Preserved() && outcome != ipaddress.OutcomeNoExternalIP {
		klog.Warningf("External IP of %s could not be preserved, the new instance gets an ephemeral one", opts.OriginalInstance)
	}

	klog.Infof("Stopping the VM instance %s", opts.OriginalInstance)
	if err := m.doZoneOperation(ctx, opts, func() (*compute.Operation, error) {
		return m.provider.StopInstance(ctx, opts.Project, opts.Zone, opts.OriginalInstance)
	}); err != nil {
		err = fmt.Errorf("failed to stop instance %s: %w", opts.OriginalInstance, err)
		return m.rollBack(ctx, opts, nil, err)
	}

	klog.Infof("Detaching the disks of %s", opts.OriginalInstance)
	var detached []*compute.AttachedDisk
	for _, disk := range original.Disks {
		if err := m.doZoneOperation(ctx, opts, func() (*compute.Operation, error) {
			return m.provider.DetachDisk(ctx, opts.Project, opts.Zone, opts.OriginalInstance, disk.DeviceName)
		}); err != nil {
			err = fmt.Errorf("failed to detach disk %s: %w", disk.DeviceName, err)
			return m.rollBack(ctx, opts, detached, err)
		}
		detached = append(detached, disk)
	}

	klog.Infof("Modifying instance template")
	newInstance, err := ModifyInstanceWithNewNetwork(original, opts.NewInstance, iface)
	if err != nil {
		return m.rollBack(ctx, opts, detached, err)
	}

	klog.Infof("Creating a new VM instance %s", opts.NewInstance)
	if err := m.doZoneOperation(ctx, opts, func() (*compute.Operation, error) {
		return m.provider.InsertInstance(ctx, opts.Project, opts.Zone, newInstance)
	}); err != nil {
		err = fmt.Errorf("failed to create instance %s: %w", opts.NewInstance, err)
		return m.rollBack(ctx, opts, detached, err)
	}

	klog.Infof("Deleting the old VM instance %s", opts.OriginalInstance)
	if err := m.doZoneOperation(ctx, opts, func() (*compute.Operation, error) {
		return m.provider.DeleteInstance(ctx, opts.Project, opts.Zone, opts.OriginalInstance)
	}); err != nil {
		return fmt.Errorf("instance %s was created but deleting %s failed: %w", opts.NewInstance, opts.OriginalInstance, err)
	}

	klog.Infof("Migrated %s to %s on network %s", opts.OriginalInstance, opts.NewInstance, target.Network)
	return nil
}

// rollBack restores the original instance after a failed migration step and
// returns cause together with any rollback failure.
func (m *Migrator) rollBack(ctx context.Context, opts Options, detached []*compute.AttachedDisk, cause error) error {
	klog.Errorf("Migration of %s failed, rolling back: %v", opts.OriginalInstance, cause)
	// The rollback must outlive a cancelled run, or the original is left
	// stopped without its disks.
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RollbackTimeout)
	defer cancel()
	if err := m.RollBackOriginalInstance(rollbackCtx, opts.Project, opts.Zone, opts.OriginalInstance, detached); err != nil {
		return utilerrors.NewAggregate([]error{cause, fmt.Errorf("rollback failed: %w", err)})
	}
	return cause
}

// RollBackOriginalInstance reattaches disks to an instance and starts it.
func (m *Migrator) RollBackOriginalInstance(ctx context.Context, project, zone, instance string, disks []*compute.AttachedDisk) (err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.RollbacksTotal.WithLabelValues(result).Inc()
	}()

	opts := Options{Project: project, Zone: zone}
	for _, disk := range disks {
		klog.Infof("Reattaching disk %s to %s", disk.DeviceName, instance)
		attach := &compute.AttachedDisk{
			Source:     disk.Source,
			DeviceName: disk.DeviceName,
			Boot:       disk.Boot,
			Mode:       disk.Mode,
			AutoDelete: disk.AutoDelete,
		}
		if err := m.doZoneOperation(ctx, opts, func() (*compute.Operation, error) {
			return m.provider.AttachDisk(ctx, project, zone, instance, attach)
		}); err != nil {
			return fmt.Errorf("failed to reattach disk %s: %w", disk.DeviceName, err)
		}
	}

	klog.Infof("Restarting the original instance %s", instance)
	if err := m.doZoneOperation(ctx, opts, func() (*compute.Operation, error) {
		return m.provider.StartInstance(ctx, project, zone, instance)
	}); err != nil {
		return fmt.Errorf("failed to start instance %s: %w", instance, err)
	}
	return nil
}

func (m *Migrator) doZoneOperation(ctx context.Context, opts Options, call func() (*compute.Operation, error)) error {
	op, err := call()
	if err != nil {
		return err
	}
	_, err = provider.WaitForZoneOperation(ctx, m.provider, opts.Project, opts.Zone, op, m.wait)
	return err
}
