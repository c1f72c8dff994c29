// Package mkfs builds small, self-consistent ext2 images in memory for
// tests: a superblock, a one-entry group-descriptor table, an inode
// table, and a root directory populated with whatever files the caller
// supplies. It mirrors the read side's byte layout in package fs exactly
// (fs/super.go's Superblock_t/GroupDesc_t offsets, fs/inode.go's
// Dinode_t/directory-entry layout) so a disk built here round-trips
// through the real read-only inode layer unmodified.
package mkfs

import (
	"encoding/binary"
	"os"
)

/// WriteImage builds an image via BuildImage and writes it to path,
/// truncating any existing file (tests point ufs.Open at the result).
func WriteImage(path string, files []File_t) error {
	img := BuildImage(files)
	return os.WriteFile(path, img, 0644)
}

const bsize = 1024
const dinodeSize = 128
const groupDescSize = 32

const (
	blkBoot  = 0
	blkSuper = 1
	blkGDT   = 2
	blkBmap  = 3
	blkImap  = 4
	blkItab0 = 5

	rootInode = 2
	firstFree = 3 // first inode number handed to a caller-supplied file

	sIFDIR = 0x4000
	sIFREG = 0x8000
)

/// File_t is one fixture file: a flat name (no subdirectories) and its
/// contents. Files larger than 12 blocks are out of scope for a fixture
/// generator exercising only the direct-block path most tests need;
/// single-indirect coverage belongs to a dedicated inode_test.go case
/// built by hand instead.
type File_t struct {
	Name string
	Data []byte
}

/// BuildImage returns a complete ext2 disk image containing a root
/// directory with "." and ".." plus one entry per file in files.
func BuildImage(files []File_t) []byte {
	maxInodes := firstFree + len(files)
	if maxInodes < 16 {
		maxInodes = 16
	}
	inodeTableBlocks := (maxInodes*dinodeSize + bsize - 1) / bsize
	firstDataBlock := blkItab0 + inodeTableBlocks

	type laidOut struct {
		inum      uint32
		mode      uint16
		dataBlock int
		nblocks   int
		size      uint32
	}
	var laid []laidOut
	nextBlock := firstDataBlock
	nextInode := uint32(firstFree)

	rootBlock := nextBlock
	nextBlock++

	for _, f := range files {
		nb := (len(f.Data) + bsize - 1) / bsize
		if nb == 0 {
			nb = 1
		}
		if nb > 12 {
			panic("mkfs: fixture file exceeds direct-block capacity")
		}
		laid = append(laid, laidOut{
			inum:      nextInode,
			mode:      sIFREG,
			dataBlock: nextBlock,
			nblocks:   nb,
			size:      uint32(len(f.Data)),
		})
		nextInode++
		nextBlock += nb
	}

	totalBlocks := nextBlock
	img := make([]byte, totalBlocks*bsize)

	// Root directory entries: "." and ".." then one per file.
	rootEntries := []dirEnt{
		{inum: rootInode, name: "."},
		{inum: rootInode, name: ".."},
	}
	for i, f := range files {
		rootEntries = append(rootEntries, dirEnt{inum: laid[i].inum, name: f.Name})
	}
	writeDirBlock(img[rootBlock*bsize:(rootBlock+1)*bsize], rootEntries)

	// Inode table: root + one per file.
	writeInode(img, firstDataBlock /*unused placeholder*/, 0, inodeTableBlocks, rootInode,
		sIFDIR, uint32(bsize), [15]uint32{0: uint32(rootBlock)})
	for j, l := range laid {
		var blocks [15]uint32
		for i := 0; i < l.nblocks; i++ {
			blocks[i] = uint32(l.dataBlock + i)
		}
		writeInode(img, 0, 0, inodeTableBlocks, l.inum, l.mode, l.size, blocks)
		for i := 0; i < l.nblocks; i++ {
			off := (l.dataBlock + i) * bsize
			src := i * bsize
			end := src + bsize
			data := files[j].Data
			if end > len(data) {
				end = len(data)
			}
			if src < len(data) {
				copy(img[off:], data[src:end])
			}
		}
	}

	// s_first_data_block is the superblock's own block (1 for 1 KiB
	// blocks); fs.Fsinit reads the group-descriptor table from the block
	// after it.
	writeSuperblock(img, uint32(maxInodes), uint32(totalBlocks), blkSuper)
	writeGDT(img, uint32(inodeTableBlocks))

	return img
}

func indexOf(laid []struct {
	inum      uint32
	mode      uint16
	dataBlock int
	nblocks   int
	size      uint32
}, inum uint32) int {
	for i, l := range laid {
		if l.inum == inum {
			return i
		}
	}
	panic("mkfs: inode not found")
}

type dirEnt struct {
	inum uint32
	name string
}

// writeDirBlock lays out records back to back, 4-byte aligned, the last
// record's rec_len stretching to the end of the block (fs/inode.go's
// Dirlookup scans until rec_len==0 or the block is exhausted).
func writeDirBlock(block []byte, ents []dirEnt) {
	off := 0
	for i, e := range ents {
		recLen := 8 + len(e.name)
		recLen = (recLen + 3) &^ 3
		if i == len(ents)-1 {
			recLen = len(block) - off
		}
		binary.LittleEndian.PutUint32(block[off:], e.inum)
		binary.LittleEndian.PutUint16(block[off+4:], uint16(recLen))
		block[off+6] = uint8(len(e.name))
		block[off+7] = 0 // file_type unused by the read-only layer
		copy(block[off+8:], e.name)
		off += recLen
	}
}

func writeInode(img []byte, _ int, _ int, inodeTableBlocks int, inum uint32, mode uint16, size uint32, blocks [15]uint32) {
	index := inum - 1
	offInTable := int(index) * dinodeSize
	blockOff := offInTable / bsize
	byteOff := offInTable % bsize
	base := (blkItab0+blockOff)*bsize + byteOff

	binary.LittleEndian.PutUint16(img[base:], mode)
	binary.LittleEndian.PutUint32(img[base+4:], size)
	binary.LittleEndian.PutUint16(img[base+26:], 1) // links_count
	for i, b := range blocks {
		binary.LittleEndian.PutUint32(img[base+40+4*i:], b)
	}
}

func writeSuperblock(img []byte, inodesCount, blocksCount, firstDataBlock uint32) {
	base := blkSuper * bsize
	binary.LittleEndian.PutUint32(img[base+0:], inodesCount)
	binary.LittleEndian.PutUint32(img[base+4:], blocksCount)
	binary.LittleEndian.PutUint32(img[base+20:], firstDataBlock)
	binary.LittleEndian.PutUint32(img[base+24:], 0) // s_log_block_size: 1024 << 0
	binary.LittleEndian.PutUint32(img[base+32:], blocksCount)  // one block group
	binary.LittleEndian.PutUint32(img[base+40:], inodesCount)  // one block group
	binary.LittleEndian.PutUint16(img[base+56:], 0xEF53)
	binary.LittleEndian.PutUint32(img[base+76:], 1) // s_rev_level: dynamic
}

func writeGDT(img []byte, inodeTableBlocks uint32) {
	base := blkGDT * bsize
	binary.LittleEndian.PutUint32(img[base+0:], blkBmap)
	binary.LittleEndian.PutUint32(img[base+4:], blkImap)
	binary.LittleEndian.PutUint32(img[base+8:], blkItab0)
}
