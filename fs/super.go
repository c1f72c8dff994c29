package fs

import (
	"encoding/binary"

	"cpu"
	"proc"
)

/// EXT2_MAGIC is the superblock magic number (§6).
const EXT2_MAGIC = 0xEF53

/// ROOT_INO is the root directory's inode number.
const ROOT_INO = 2

/// Ext2 block-pointer layout (§4.G, GLOSSARY).
const (
	NDIRECT  = 12
	INDIRECT = 12 /// index into i_block of the single-indirect pointer
	NIBLOCKS = 15
)

/// Superblock_t is the parsed ext2 superblock (§6). Only the fields the
/// inode layer needs are kept; the rest of the 1024-byte on-disk struct is
/// ignored on read.
type Superblock_t struct {
	InodesCount     uint32
	BlocksCount     uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	Magic           uint16
	RevLevel        uint32
}

/// GroupDesc_t is one block-group descriptor (§6).
type GroupDesc_t struct {
	BlockBitmap uint32
	InodeBitmap uint32
	InodeTable  uint32
}

const groupDescSize = 32 /// on-disk size of struct ext2_group_desc

var sb Superblock_t
var gdt []GroupDesc_t
var sbDev int

/// Fsinit reads the superblock from block 1 and the group-descriptor table
/// from the block that follows it, checking the magic number (§4.G, §6).
/// It panics on a bad magic: a missing/corrupt root filesystem is one of
/// the fatal kernel-bug invariants named in §7.
func Fsinit(p *proc.Proc_t, c *cpu.Cpu_t, dev int) {
	sbDev = dev
	b := Bread(p, c, dev, 1)
	sb = parseSuperblock(&b.Data)
	Brelse(b, c)

	if sb.Magic != EXT2_MAGIC {
		panic("fsinit: bad ext2 magic")
	}

	ngroups := (sb.InodesCount + sb.InodesPerGroup - 1) / sb.InodesPerGroup
	gdt = make([]GroupDesc_t, ngroups)
	gdtBlock := int(sb.FirstDataBlock) + 1
	gb := Bread(p, c, dev, gdtBlock)
	for i := range gdt {
		off := i * groupDescSize
		gdt[i] = GroupDesc_t{
			BlockBitmap: binary.LittleEndian.Uint32(gb.Data[off:]),
			InodeBitmap: binary.LittleEndian.Uint32(gb.Data[off+4:]),
			InodeTable:  binary.LittleEndian.Uint32(gb.Data[off+8:]),
		}
	}
	Brelse(gb, c)
}

func parseSuperblock(d *[BSIZE]uint8) Superblock_t {
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(d[off:]) }
	u16 := func(off int) uint16 { return binary.LittleEndian.Uint16(d[off:]) }
	return Superblock_t{
		InodesCount:    u32(0),
		BlocksCount:    u32(4),
		FirstDataBlock: u32(20),
		LogBlockSize:   u32(24),
		BlocksPerGroup: u32(32),
		InodesPerGroup: u32(40),
		Magic:          u16(56),
		RevLevel:       u32(76),
	}
}

/// blockSize returns the filesystem's block size in bytes: 1024 << s_log_block_size.
func blockSize() int {
	return BSIZE << sb.LogBlockSize
}
