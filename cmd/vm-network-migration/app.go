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

package main

import (
	"context"
	goflag "flag"
	"fmt"
	"time"

	"github.com/edwinnab/vm-network-migration/pkg/metrics"
	"github.com/edwinnab/vm-network-migration/pkg/migration"
	"github.com/edwinnab/vm-network-migration/pkg/provider"
	"github.com/edwinnab/vm-network-migration/pkg/provider/gce"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"
	"k8s.io/klog/v2"
)

const commandName = "vm-network-migration"

type Options struct {
	Project            string
	Zone               string
	OriginalInstance   string
	NewInstance        string
	Network            string
	Subnetwork         string
	PreserveExternalIP bool

	PollInterval     time.Duration
	OperationTimeout time.Duration
	MetricsTextfile  string
	// ComputeEndpoint overrides the compute API endpoint, requests are then
	// sent without credentials.
	ComputeEndpoint string
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Project, "project_id", "", "The project ID of the original VM.")
	fs.StringVar(&o.Zone, "zone", "", "The zone name of the original VM.")
	fs.StringVar(&o.OriginalInstance, "original_instance_name", "", "The name of the original VM.")
	fs.StringVar(&o.NewInstance, "new_instance_name", "", "The name of the new VM. It must differ from the original name.")
	fs.StringVar(&o.Network, "network", "", "The name of the target network.")
	fs.StringVar(&o.Subnetwork, "subnetwork", "", "The name of the target subnetwork. Optional for auto mode networks.")
	fs.BoolVar(&o.PreserveExternalIP, "preserve_external_ip", false, "Preserve the external IP address of the original VM.")
	fs.DurationVar(&o.PollInterval, "operation-poll-interval", provider.DefaultPollInterval, "Interval between polls of a pending compute operation.")
	fs.DurationVar(&o.OperationTimeout, "operation-timeout", provider.DefaultOperationTimeout, "Maximum time to wait for a compute operation.")
	fs.StringVar(&o.MetricsTextfile, "metrics-textfile", "", "If set, write the migration metrics to this file in the Prometheus text format.")
	fs.StringVar(&o.ComputeEndpoint, "compute-endpoint", "", "Override the compute API endpoint.")
}

func (o *Options) migrationOptions() migration.Options {
	return migration.Options{
		Project:            o.Project,
		Zone:               o.Zone,
		OriginalInstance:   o.OriginalInstance,
		NewInstance:        o.NewInstance,
		Network:            o.Network,
		Subnetwork:         o.Subnetwork,
		PreserveExternalIP: o.PreserveExternalIP,
	}
}

func (o *Options) clientOptions() []option.ClientOption {
	if o.ComputeEndpoint == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(o.ComputeEndpoint),
		option.WithoutAuthentication(),
	}
}

// Command returns the root command. klog flags are registered next to the
// migration flags.
func Command() *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Migrate a VM instance from a legacy network to a VPC network",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Version:      version(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			klog.Infof("%s %s", commandName, cmd.Version)
			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				klog.Infof("FLAG: --%s=%q", f.Name, f.Value)
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), opts)
		},
	}

	goFlags := goflag.NewFlagSet("", goflag.ContinueOnError)
	klog.InitFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)

	opts.AddFlags(cmd.Flags())

	return cmd
}

func Run(ctx context.Context, opts Options) error {
	migrationOpts := opts.migrationOptions()
	if err := migrationOpts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	computeProvider, err := gce.NewGCEProvider(ctx, opts.clientOptions()...)
	if err != nil {
		return err
	}

	migrator := migration.NewMigrator(computeProvider, provider.WaitOptions{
		Interval: opts.PollInterval,
		Timeout:  opts.OperationTimeout,
	})
	migrateErr := migrator.Migrate(ctx, migrationOpts)

	if opts.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(opts.MetricsTextfile); err != nil {
			klog.Warningf("Failed to write metrics to %s: %v", opts.MetricsTextfile, err)
		}
	}
	return migrateErr
}
