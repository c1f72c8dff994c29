// Package pci names the external contract for legacy PCI IO-space BAR0
// access (§4.F, §6): vendor 0x1AF4, device 0x1001, the virtio-block
// device this kernel drives. Bus enumeration (scanning config space for
// that vendor/device pair) is bare-metal glue out of scope here; this
// package only fixes the BAR0 register window the fs package's virtio
// driver programs.
package pci

/// VendorVirtio and DeviceVirtioBlock identify the device this kernel
/// expects to find at boot (§6).
const (
	VendorVirtio     = 0x1AF4
	DeviceVirtioBlock = 0x1001
)

/// Device_t names a discovered PCI device's BAR0 IO-space base, the only
/// piece of bus-enumeration state the virtio driver needs.
type Device_t struct {
	IOBase uint16
}
