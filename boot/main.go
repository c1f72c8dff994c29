// Command boot assembles the kernel's components into a runnable
// instance: a simulated physical memory arena, a buffer cache attached to
// an ext2 disk image, the console device, and one process per simulated
// CPU running the scheduler loop. It stands in for the custom-forked Go
// runtime's own entry point that a from-scratch implementation would use
// instead (§4.H/§4.I's boot sequence describes bringing up APs via a
// trampoline and entering the scheduler loop on each; that asm-level
// bootstrap is out of scope, same as the IDT vector stubs).
//
// There is no real PCI bus or virtio hardware behind a hosted Go process,
// so this entry point drives the filesystem through ufs's host-file-backed
// fs.Disk_i rather than fs.Virtio_t; the virtio driver still exists to
// exercise the ring protocol itself (see fs.Virtio_t's doc comment and its
// tests).
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/google/pprof/profile"

	"console"
	"cpu"
	"fs"
	"mem"
	"mkfs"
	"proc"
	"ufs"
	"vm"
)

const npages = 1 << 16 // 256 MiB simulated physical memory

func main() {
	diskPath := flag.String("disk", "", "path to an ext2 image (built fresh if empty)")
	ncpu := flag.Int("ncpu", 2, "number of simulated CPUs")
	cpuprofile := flag.String("cpuprofile", "", "write a pprof CPU profile of the scheduler, then exit after -profiletime")
	profiletime := flag.Duration("profiletime", 2*time.Second, "how long to run the scheduler before stopping -cpuprofile")
	flag.Parse()

	mem.Phys_init(npages)
	console.Init(mem.Physmem)

	img := *diskPath
	if img == "" {
		tmp, err := os.CreateTemp("", "kyanite-root-*.img")
		if err != nil {
			fmt.Fprintf(os.Stderr, "boot: %v\n", err)
			os.Exit(1)
		}
		tmp.Close()
		img = tmp.Name()
		if err := mkfs.WriteImage(img, []mkfs.File_t{
			{Name: "hello", Data: []byte("hello from kyanite\n")},
		}); err != nil {
			fmt.Fprintf(os.Stderr, "boot: mkfs: %v\n", err)
			os.Exit(1)
		}
	}

	disk, err := ufs.Open(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: open disk: %v\n", err)
		os.Exit(1)
	}
	fs.Init(disk)

	bootCpu := &cpu.Cpus[0]
	fs.Fsinit(nil, bootCpu, 0)

	for i := 1; i < *ncpu && i < cpu.Max; i++ {
		c := &cpu.Cpus[i]
		c.ID = int32(i)
		go proc.CPULoop(c)
	}
	cpu.Cpus[0].ID = 0

	as, err := vm.CreateUserPgdir(mem.Physmem)
	if err != 0 {
		fmt.Fprintf(os.Stderr, "boot: create address space: %d\n", err)
		os.Exit(1)
	}

	_, perr := proc.Spawn("init", func(p *proc.Proc_t) int {
		p.Vm = as
		fmt.Println("kyanite: init running")
		return 0
	}, bootCpu)
	if perr != 0 {
		fmt.Fprintf(os.Stderr, "boot: spawn init: %d\n", perr)
		os.Exit(1)
	}

	if *cpuprofile == "" {
		proc.CPULoop(bootCpu)
		return
	}

	f, err := os.Create(*cpuprofile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: cpuprofile: %v\n", err)
		os.Exit(1)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		fmt.Fprintf(os.Stderr, "boot: cpuprofile: %v\n", err)
		os.Exit(1)
	}
	go proc.CPULoop(bootCpu)
	time.Sleep(*profiletime)
	pprof.StopCPUProfile()
	f.Close()
	summarizeProfile(*cpuprofile)
}

// summarizeProfile reads back the profile boot just wrote and prints its
// sample count, exercising github.com/google/pprof's own parser rather
// than trusting runtime/pprof's writer blindly.
func summarizeProfile(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: reopen profile: %v\n", err)
		return
	}
	defer f.Close()
	prof, err := profile.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: parse profile: %v\n", err)
		return
	}
	fmt.Printf("kyanite: wrote %s (%d samples, %d locations)\n", path, len(prof.Sample), len(prof.Location))
}
