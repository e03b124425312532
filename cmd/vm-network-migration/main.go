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
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"

	"golang.org/x/sys/unix"

	"k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/klog/v2"
)

func main() {
	// trap Ctrl+C and call cancel on the context
	ctx, cancel := context.WithCancel(context.Background())

	// Enable signal handler
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, unix.SIGTERM)
	go func() {
		select {
		case <-signalCh:
			klog.Infof("Exiting: received signal, cancelling pending operations")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := Command().ExecuteContext(ctx)
	signal.Stop(signalCh)
	cancel()
	if err != nil {
		runtime.HandleError(fmt.Errorf("migration failed: %w", err))
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// version describes the binary from the build information embedded by the
// go toolchain.
func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	revision, dirty := "unknown", false
	for _, f := range info.Settings {
		switch f.Key {
		case "vcs.revision":
			revision = f.Value
		case "vcs.modified":
			dirty = f.Value == "true"
		}
	}
	if dirty {
		revision += "-dirty"
	}
	mainVersion := info.Main.Version
	if mainVersion == "" {
		mainVersion = "(devel)"
	}
	return fmt.Sprintf("%s revision %s %s", mainVersion, revision, info.GoVersion)
}
