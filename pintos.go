// Package pintos is the top-level facade for the virtual-memory core.
package pintos

import "github.com/pintos-group-black-premium-car/pintos/internal/vmcore"

// Core is the process-wide virtual-memory container.
type Core = vmcore.Core

// AddressSpace is one process's view of the VM core.
type AddressSpace = vmcore.AddressSpace

// NewCore builds a VM core. See vmcore.NewCore.
var NewCore = vmcore.NewCore
