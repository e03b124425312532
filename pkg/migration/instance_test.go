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
	"github.com/edwinnab/vm-network-migration/pkg/migration"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/compute/v1"
)

var _ = Describe("ModifyInstanceWithNewNetwork", func() {
	newInterface := &compute.NetworkInterface{
		Network:    networkLink("target-custom"),
		Subnetwork: regionURL + "/subnetworks/target-subnet",
	}

	It("should replace the name and the first network interface", func() {
		original := &compute.Instance{
			Id:                42,
			Name:              "mock-old-instance",
			Status:            "TERMINATED",
			Fingerprint:       "abc",
			NetworkInterfaces: []*compute.NetworkInterface{{Network: "legacy"}, {Network: "secondary"}},
		}

		modified, err := migration.ModifyInstanceWithNewNetwork(original, newInstance, newInterface)
		Expect(err).NotTo(HaveOccurred())
		Expect(modified).To(SatisfyAll(
			HaveField("Name", newInstance),
			HaveField("Id", BeZero()),
			HaveField("Status", BeEmpty()),
			HaveField("Fingerprint", BeEmpty()),
			HaveField("NetworkInterfaces", HaveExactElements(newInterface, HaveField("Network", "secondary"))),
		))

		By("ensuring the original instance is untouched")
		Expect(original.Name).To(Equal("mock-old-instance"))
		Expect(original.NetworkInterfaces[0].Network).To(Equal("legacy"))
	})

	DescribeTable("should reject incomplete instances",
		func(instance *compute.Instance) {
			_, err := migration.ModifyInstanceWithNewNetwork(instance, newInstance, newInterface)
			Expect(err).To(MatchError(migration.ErrAttributeNotExist))
		},
		Entry("nil instance", nil),
		Entry("empty instance", &compute.Instance{}),
		Entry("no network interfaces", &compute.Instance{Name: "mock-old-instance", NetworkInterfaces: []*compute.NetworkInterface{}}),
		Entry("no name", &compute.Instance{NetworkInterfaces: []*compute.NetworkInterface{{Network: "legacy"}}}),
	)
})

var _ = Describe("DiskDeviceNames", func() {
	It("should list every attached disk", func() {
		names, err := migration.DiskDeviceNames(&compute.Instance{
			Name:  "vm",
			Disks: []*compute.AttachedDisk{{DeviceName: "boot"}, {DeviceName: "data"}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"boot", "data"}))
	})

	It("should fail for an instance without disks", func() {
		_, err := migration.DiskDeviceNames(&compute.Instance{Name: "vm"})
		Expect(err).To(MatchError(migration.ErrNoDisks))
	})
})

var _ = Describe("Options", func() {
	It("should accept a complete set of options", func() {
		Expect(options().Validate()).To(Succeed())
	})

	It("should require a network", func() {
		opts := options()
		opts.Network = ""
		Expect(opts.Validate()).To(MatchError(ContainSubstring("network must be specified")))
	})

	It("should allow an empty subnetwork", func() {
		opts := options()
		opts.Subnetwork = ""
		Expect(opts.Validate()).To(Succeed())
	})
})
