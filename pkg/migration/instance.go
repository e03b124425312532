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

package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edwinnab/vm-network-migration/pkg/ipaddress"
	"github.com/edwinnab/vm-network-migration/pkg/provider"
	"google.golang.org/api/compute/v1"
)

var (
	ErrAttributeNotExist  = errors.New("attribute does not exist in the instance")
	ErrLegacyNetwork      = errors.New("the target network is not a subnetwork mode network")
	ErrSubnetworkRequired = errors.New("a subnetwork is required for a custom mode network")
	ErrSameInstanceName   = errors.New("the new instance name must differ from the original instance name")
	ErrInstanceExists     = errors.New("an instance with the new name already exists")
	ErrNoDisks            = errors.New("no disks are attached to the instance")
)

// DiskDeviceNames returns the device names of the disks attached to instance.
func DiskDeviceNames(instance *compute.Instance) ([]string, error) {
	if len(instance.Disks) == 0 {
		return nil, fmt.Errorf("instance %s: %w", instance.Name, ErrNoDisks)
	}
	names := make([]string, 0, len(instance.Disks))
	for _, d := range instance.Disks {
		names = append(names, d.DeviceName)
	}
	return names, nil
}

// ModifyInstanceWithNewNetwork returns a copy of instance named newName whose
// first network interface is replaced by iface. Output only fields are cleared
// so the result can be submitted as a new instance.
func ModifyInstanceWithNewNetwork(instance *compute.Instance, newName string, iface *compute.NetworkInterface) (*compute.Instance, error) {
	if instance == nil || instance.Name == "" {
		return nil, fmt.Errorf("name: %w", ErrAttributeNotExist)
	}
	if len(instance.NetworkInterfaces) == 0 {
		return nil, fmt.Errorf("networkInterfaces: %w", ErrAttributeNotExist)
	}

	modified := *instance
	modified.NetworkInterfaces = append([]*compute.NetworkInterface{iface}, instance.NetworkInterfaces[1:]...)
	modified.Name = newName
	modified.Id = 0
	modified.SelfLink = ""
	modified.CreationTimestamp = ""
	modified.Status = ""
	modified.StatusMessage = ""
	modified.Fingerprint = ""
	modified.CpuPlatform = ""
	modified.LastStartTimestamp = ""
	modified.LastStopTimestamp = ""
	return &modified, nil
}

// regionFromZone resolves the region of a zone, returning the region URL and name.
func regionFromZone(ctx context.Context, p provider.Provider, project, zone string) (string, string, error) {
	z, err := p.GetZone(ctx, project, zone)
	if err != nil {
		return "", "", fmt.Errorf("failed to get zone %s: %w", zone, err)
	}
	if z.Region == "" {
		return "", "", fmt.Errorf("zone %s region: %w", zone, ErrAttributeNotExist)
	}
	return z.Region, lastSegment(z.Region), nil
}

// resolveSubnetwork checks the target network mode. Legacy networks are
// rejected, and auto mode networks default the subnetwork to the network name.
func resolveSubnetwork(network *compute.Network, subnetwork string) (string, error) {
	if network.IPv4Range != "" {
		return "", fmt.Errorf("network %s: %w", network.Name, ErrLegacyNetwork)
	}
	if subnetwork != "" {
		return subnetwork, nil
	}
	if !network.AutoCreateSubnetworks {
		return "", fmt.Errorf("network %s: %w", network.Name, ErrSubnetworkRequired)
	}
	return network.Name, nil
}

// targetNetwork builds the network references for the new interface.
func targetNetwork(network *compute.Network, regionURL, subnetwork string) ipaddress.TargetNetwork {
	return ipaddress.TargetNetwork{
		Network:    network.SelfLink,
		Subnetwork: strings.TrimSuffix(regionURL, "/") + "/subnetworks/" + subnetwork,
	}
}

func lastSegment(url string) string {
	url = strings.TrimSuffix(url, "/")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
