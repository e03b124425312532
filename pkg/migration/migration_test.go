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

package migration_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/edwinnab/vm-network-migration/pkg/ipaddress"
	"github.com/edwinnab/vm-network-migration/pkg/migration"
	"github.com/edwinnab/vm-network-migration/pkg/provider"
	"github.com/edwinnab/vm-network-migration/pkg/provider/fake"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/compute/v1"
)

func options() migration.Options {
	return migration.Options{
		Project:          project,
		Zone:             zone,
		OriginalInstance: originalInstance,
		NewInstance:      newInstance,
		Network:          "target-custom",
		Subnetwork:       "target-subnet",
	}
}

// cancellingProvider cancels the run while the new instance is being created
// and, like the compute client, fails calls made on a cancelled context.
type cancellingProvider struct {
	*fake.FakeProvider
	cancel context.CancelFunc
}

func (p *cancellingProvider) InsertInstance(ctx context.Context, _, _ string, _ *compute.Instance) (*compute.Operation, error) {
	p.cancel()
	return nil, ctx.Err()
}

func (p *cancellingProvider) AttachDisk(ctx context.Context, project, zone, instance string, disk *compute.AttachedDisk) (*compute.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.FakeProvider.AttachDisk(ctx, project, zone, instance, disk)
}

func (p *cancellingProvider) StartInstance(ctx context.Context, project, zone, instance string) (*compute.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.FakeProvider.StartInstance(ctx, project, zone, instance)
}

func indexOf(calls []fake.Call, m fake.Method) int {
	for i, c := range calls {
		if c.Method == m {
			return i
		}
	}
	return -1
}

var _ = Describe("Migrate", func() {
	It("should re-create the instance on the target network", func(ctx SpecContext) {
		Expect(migrator.Migrate(ctx, options())).To(Succeed())

		By("ensuring the original instance is gone")
		Expect(computeProvider.Instance(zone, originalInstance)).To(BeNil())

		By("ensuring the new instance is attached to the target network")
		created := computeProvider.Instance(zone, newInstance)
		Expect(created).NotTo(BeNil())
		Expect(created).To(SatisfyAll(
			HaveField("Name", newInstance),
			HaveField("Id", BeZero()),
			HaveField("MachineType", "zones/us-central1-a/machineTypes/e2-medium"),
			HaveField("Disks", HaveLen(2)),
			HaveField("NetworkInterfaces", HaveLen(1)),
		))
		Expect(created.NetworkInterfaces[0]).To(SatisfyAll(
			HaveField("Network", networkLink("target-custom")),
			HaveField("Subnetwork", regionURL+"/subnetworks/target-subnet"),
			HaveField("NetworkIP", BeEmpty()),
			HaveField("AccessConfigs", BeNil()),
		))

		By("ensuring no static address was reserved")
		Expect(computeProvider.CallCount(fake.InsertAddress)).To(BeZero())
	})

	It("should preserve the external IP when requested", func(ctx SpecContext) {
		opts := options()
		opts.PreserveExternalIP = true
		Expect(migrator.Migrate(ctx, opts)).To(Succeed())

		created := computeProvider.Instance(zone, newInstance)
		Expect(created).NotTo(BeNil())
		Expect(created.NetworkInterfaces[0].AccessConfigs).To(ConsistOf(
			HaveField("NatIP", externalIP),
		))
		Expect(created.NetworkInterfaces[0].NetworkIP).To(BeEmpty())

		By("ensuring the address is reserved in the region of the zone")
		Expect(computeProvider.Address(region, ipaddress.ReservationName(newInstance))).To(
			HaveField("Address", externalIP),
		)
	})

	It("should reserve the external IP before the original instance releases it", func(ctx SpecContext) {
		opts := options()
		opts.PreserveExternalIP = true
		Expect(migrator.Migrate(ctx, opts)).To(Succeed())

		calls := computeProvider.Calls()
		Expect(indexOf(calls, fake.InsertAddress)).To(BeNumerically(">=", 0))
		Expect(indexOf(calls, fake.InsertAddress)).To(BeNumerically("<", indexOf(calls, fake.StopInstance)))
		Expect(computeProvider.Address(region, ipaddress.ReservationName(newInstance))).To(
			HaveField("Address", externalIP),
		)
	})

	It("should fall back to an ephemeral external IP when the reservation fails", func(ctx SpecContext) {
		computeProvider.Errors[fake.InsertAddress] = &provider.Error{Kind: provider.ErrorKindOther, Code: http.StatusForbidden, Message: "permission denied"}
		opts := options()
		opts.PreserveExternalIP = true
		Expect(migrator.Migrate(ctx, opts)).To(Succeed())

		created := computeProvider.Instance(zone, newInstance)
		Expect(created).NotTo(BeNil())
		Expect(created.NetworkInterfaces[0].AccessConfigs).To(BeNil())
		Expect(created.NetworkInterfaces[0].Network).To(Equal(networkLink("target-custom")))
	})

	It("should default the subnetwork of an auto mode network to the network name", func(ctx SpecContext) {
		opts := options()
		opts.Network = "target-auto"
		opts.Subnetwork = ""
		Expect(migrator.Migrate(ctx, opts)).To(Succeed())

		created := computeProvider.Instance(zone, newInstance)
		Expect(created).NotTo(BeNil())
		Expect(created.NetworkInterfaces[0].Subnetwork).To(Equal(regionURL + "/subnetworks/target-auto"))
	})

	It("should reject a custom mode network without subnetwork", func(ctx SpecContext) {
		opts := options()
		opts.Subnetwork = ""
		Expect(migrator.Migrate(ctx, opts)).To(MatchError(migration.ErrSubnetworkRequired))
		Expect(computeProvider.CallCount(fake.StopInstance)).To(BeZero())
	})

	It("should reject migrating to a legacy network", func(ctx SpecContext) {
		opts := options()
		opts.Network = "legacy"
		Expect(migrator.Migrate(ctx, opts)).To(MatchError(migration.ErrLegacyNetwork))
		Expect(computeProvider.CallCount(fake.StopInstance)).To(BeZero())
	})

	It("should reject an unknown network", func(ctx SpecContext) {
		opts := options()
		opts.Network = "missing"
		err := migrator.Migrate(ctx, opts)
		Expect(err).To(HaveOccurred())
		Expect(provider.IsNotFound(err)).To(BeTrue())
	})

	It("should reject an unchanged instance name", func(ctx SpecContext) {
		opts := options()
		opts.NewInstance = originalInstance
		Expect(migrator.Migrate(ctx, opts)).To(MatchError(migration.ErrSameInstanceName))
		Expect(computeProvider.Calls()).To(BeEmpty())
	})

	It("should reject a new instance name that already exists", func(ctx SpecContext) {
		computeProvider.AddInstance(zone, &compute.Instance{Name: newInstance})
		Expect(migrator.Migrate(ctx, options())).To(MatchError(migration.ErrInstanceExists))
		Expect(computeProvider.CallCount(fake.StopInstance)).To(BeZero())
	})

	It("should reject an original instance without disks", func(ctx SpecContext) {
		computeProvider.AddInstance(zone, &compute.Instance{
			Name:              originalInstance,
			NetworkInterfaces: []*compute.NetworkInterface{{Network: networkLink("legacy")}},
		})
		Expect(migrator.Migrate(ctx, options())).To(MatchError(migration.ErrNoDisks))
		Expect(computeProvider.CallCount(fake.StopInstance)).To(BeZero())
	})

	It("should roll back the original instance when the new instance cannot be created", func(ctx SpecContext) {
		computeProvider.Errors[fake.InsertInstance] = &provider.Error{Kind: provider.ErrorKindOther, Code: http.StatusForbidden, Message: "quota exceeded"}

		err := migrator.Migrate(ctx, options())
		Expect(err).To(MatchError(ContainSubstring("failed to create instance")))

		By("ensuring the disks are reattached and the instance is restarted")
		restored := computeProvider.Instance(zone, originalInstance)
		Expect(restored).NotTo(BeNil())
		Expect(restored).To(SatisfyAll(
			HaveField("Status", "RUNNING"),
			HaveField("Disks", ConsistOf(
				HaveField("DeviceName", "mock-disk-0"),
				HaveField("DeviceName", "mock-disk-1"),
			)),
		))
		Expect(computeProvider.CallCount(fake.AttachDisk)).To(Equal(2))
		Expect(computeProvider.Instance(zone, newInstance)).To(BeNil())
	})

	It("should report a failed rollback together with the cause", func(ctx SpecContext) {
		computeProvider.Errors[fake.InsertInstance] = errors.New("insert failed")
		computeProvider.Errors[fake.AttachDisk] = errors.New("attach failed")

		err := migrator.Migrate(ctx, options())
		Expect(err).To(MatchError(SatisfyAll(
			ContainSubstring("insert failed"),
			ContainSubstring("rollback failed"),
			ContainSubstring("attach failed"),
		)))
	})

	It("should restart the original instance when it cannot be stopped", func(ctx SpecContext) {
		computeProvider.OperationErrors[fake.StopInstance] = []string{"INTERNAL_ERROR"}

		err := migrator.Migrate(ctx, options())
		Expect(err).To(MatchError(ContainSubstring("failed to stop instance")))
		Expect(computeProvider.CallCount(fake.DetachDisk)).To(BeZero())
		Expect(computeProvider.CallCount(fake.StartInstance)).To(Equal(1))
		Expect(computeProvider.Instance(zone, originalInstance)).To(HaveField("Status", "RUNNING"))
	})

	It("should finish the rollback when the migration is cancelled", func(ctx SpecContext) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		cancelling := &cancellingProvider{FakeProvider: computeProvider, cancel: cancel}
		m := migration.NewMigrator(cancelling, provider.WaitOptions{Interval: time.Millisecond, Timeout: time.Second})

		err := m.Migrate(runCtx, options())
		Expect(err).To(MatchError(context.Canceled))
		Expect(err).NotTo(MatchError(ContainSubstring("rollback failed")))

		By("ensuring the original instance is running with its disks")
		Expect(computeProvider.Instance(zone, originalInstance)).To(SatisfyAll(
			HaveField("Status", "RUNNING"),
			HaveField("Disks", HaveLen(2)),
		))
		Expect(computeProvider.CallCount(fake.AttachDisk)).To(Equal(2))
	})

	It("should roll back the disks detached before a detach failure", func(ctx SpecContext) {
		computeProvider.OperationErrors[fake.DetachDisk] = []string{"RESOURCE_IN_USE_BY_ANOTHER_RESOURCE"}

		err := migrator.Migrate(ctx, options())
		Expect(err).To(MatchError(ContainSubstring("failed to detach disk mock-disk-0")))
		Expect(computeProvider.CallCount(fake.StartInstance)).To(Equal(1))
	})
})

var _ = Describe("RollBackOriginalInstance", func() {
	disks := []*compute.AttachedDisk{
		{DeviceName: "mock-disk-0", Boot: true, Source: "zones/us-central1-a/disks/mock-disk-0"},
	}

	It("should reattach a single disk and restart the instance", func(ctx SpecContext) {
		Expect(migrator.RollBackOriginalInstance(ctx, project, zone, originalInstance, disks)).To(Succeed())
		Expect(computeProvider.CallCount(fake.AttachDisk)).To(Equal(1))
		Expect(computeProvider.Calls()).To(ContainElement(fake.Call{Method: fake.StartInstance, Target: originalInstance}))
	})

	It("should restart the instance without disk information", func(ctx SpecContext) {
		Expect(migrator.RollBackOriginalInstance(ctx, project, zone, originalInstance, nil)).To(Succeed())
		Expect(computeProvider.CallCount(fake.AttachDisk)).To(BeZero())
		Expect(computeProvider.CallCount(fake.StartInstance)).To(Equal(1))
	})

	It("should fail when the instance cannot be started", func(ctx SpecContext) {
		computeProvider.Errors[fake.StartInstance] = &provider.Error{Kind: provider.ErrorKindNotFound, Code: http.StatusNotFound}
		err := migrator.RollBackOriginalInstance(ctx, project, zone, originalInstance, disks)
		Expect(provider.IsNotFound(err)).To(BeTrue())
	})

	It("should fail when a disk cannot be attached", func(ctx SpecContext) {
		computeProvider.Errors[fake.AttachDisk] = &provider.Error{Kind: provider.ErrorKindNotFound, Code: http.StatusNotFound}
		err := migrator.RollBackOriginalInstance(ctx, project, zone, originalInstance, disks)
		Expect(err).To(MatchError(ContainSubstring("failed to reattach disk mock-disk-0")))
		Expect(computeProvider.CallCount(fake.StartInstance)).To(BeZero())
	})

	It("should fail when a zone operation fails", func(ctx SpecContext) {
		computeProvider.OperationErrors[fake.StartInstance] = []string{"INTERNAL_ERROR"}
		err := migrator.RollBackOriginalInstance(ctx, project, zone, originalInstance, disks)
		var operr *provider.OperationError
		Expect(errors.As(err, &operr)).To(BeTrue())
	})
})
