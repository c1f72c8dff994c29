package fs

import (
	"encoding/binary"
	"fmt"

	"cpu"
	"defs"
	"hashtable"
	"limits"
	"proc"
	"sleeplock"
	"spinlock"
	"ustr"
)

/// Dinode_t is the on-disk ext2 inode (§3, §4.G, §6). Only the fields this
/// read-only layer needs are parsed out of the 128-byte on-disk record.
type Dinode_t struct {
	Mode       uint16
	LinksCount uint16
	Size       uint32
	Block      [NIBLOCKS]uint32
}

const dinodeSize = 128

// File-type bits within Dinode_t.Mode (POSIX st_mode format).
const (
	S_IFMT  = 0xF000
	S_IFDIR = 0x4000
	S_IFREG = 0x8000
)

/// Inode_t is an in-memory inode cache entry (§3). At most one record per
/// (dev, inum); the cached on-disk inode is lazily loaded by Ilock.
type Inode_t struct {
	Dev    int
	Inum   uint32
	Refcnt int

	lock   *sleeplock.Lock_t
	valid  bool
	Dinode Dinode_t
}

const NINODE = limits.NINODE

var icache struct {
	guard spinlock.Lock_t
	inode [NINODE]Inode_t
}

func init() {
	icache.guard = *spinlock.Mk("icache")
}

/// Iget returns the in-memory inode for (dev, inum), bumping its refcount.
/// It does not load the on-disk contents; call Ilock for that.
func Iget(dev int, inum uint32, c *cpu.Cpu_t) *Inode_t {
	icache.guard.Lock(c)
	defer icache.guard.Unlock(c)

	var empty *Inode_t
	for i := range icache.inode {
		ip := &icache.inode[i]
		if ip.Refcnt > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.Refcnt++
			return ip
		}
		if empty == nil && ip.Refcnt == 0 {
			empty = ip
		}
	}
	if empty == nil {
		panic("iget: no inodes")
	}
	empty.Dev = dev
	empty.Inum = inum
	empty.Refcnt = 1
	empty.valid = false
	if empty.lock == nil {
		empty.lock = sleeplock.Mk("inode")
	}
	return empty
}

/// Iput releases a reference obtained from Iget. Per §4.G's non-goals,
/// there is no write-back or deletion; dropping the last reference simply
/// allows the slot to be reused.
func Iput(ip *Inode_t, c *cpu.Cpu_t) {
	icache.guard.Lock(c)
	ip.Refcnt--
	icache.guard.Unlock(c)
}

/// Ilock locks ip for access, loading its on-disk contents on first use
/// (§4.G).
func Ilock(ip *Inode_t, p *proc.Proc_t, c *cpu.Cpu_t) {
	ip.lock.Acquire(p, c)
	if ip.valid {
		return
	}
	inodesPerGroup := sb.InodesPerGroup
	group := (ip.Inum - 1) / inodesPerGroup
	index := (ip.Inum - 1) % inodesPerGroup
	table := gdt[group].InodeTable

	offInTable := index * dinodeSize
	blockOff := offInTable / BSIZE
	byteOff := offInTable % BSIZE

	b := Bread(p, c, ip.Dev, int(table+blockOff))
	ip.Dinode = parseDinode(&b.Data, int(byteOff))
	Brelse(b, c)
	ip.valid = true
}

/// Iunlock releases the lock taken by Ilock.
func Iunlock(ip *Inode_t, c *cpu.Cpu_t) {
	ip.lock.Release(c)
}

func parseDinode(d *[BSIZE]uint8, off int) Dinode_t {
	u16 := func(o int) uint16 { return binary.LittleEndian.Uint16(d[off+o:]) }
	u32 := func(o int) uint32 { return binary.LittleEndian.Uint32(d[off+o:]) }
	var di Dinode_t
	di.Mode = u16(0)
	di.Size = u32(4)
	di.LinksCount = u16(26)
	for i := 0; i < NIBLOCKS; i++ {
		di.Block[i] = u32(40 + 4*i)
	}
	return di
}

// bmap returns the disk block address of the bn'th block of ip, or 0 if
// none is allocated (§4.G: direct 0-11, single-indirect via index 12).
func bmap(ip *Inode_t, bn uint32, p *proc.Proc_t, c *cpu.Cpu_t) uint32 {
	if bn < NDIRECT {
		return ip.Dinode.Block[bn]
	}
	bn -= NDIRECT
	perBlock := uint32(BSIZE / 4)
	if bn < perBlock {
		indAddr := ip.Dinode.Block[INDIRECT]
		if indAddr == 0 {
			return 0
		}
		ib := Bread(p, c, ip.Dev, int(indAddr))
		addr := binary.LittleEndian.Uint32(ib.Data[bn*4:])
		Brelse(ib, c)
		return addr
	}
	// double/triple indirect: out of scope (§4.G non-goals).
	return 0
}

/// Readi reads up to len(dst) bytes from ip starting at off into dst,
/// returning the number of bytes actually read (§4.G). ip must be locked.
func Readi(ip *Inode_t, off uint32, dst []byte, p *proc.Proc_t, c *cpu.Cpu_t) uint32 {
	if off > ip.Dinode.Size {
		return 0
	}
	n := uint32(len(dst))
	if off+n > ip.Dinode.Size {
		n = ip.Dinode.Size - off
	}
	var tot uint32
	for tot < n {
		blk := bmap(ip, off/BSIZE, p, c)
		if blk == 0 {
			break
		}
		b := Bread(p, c, ip.Dev, int(blk))
		start := off % BSIZE
		want := n - tot
		avail := uint32(BSIZE) - start
		if want > avail {
			want = avail
		}
		copy(dst[tot:tot+want], b.Data[start:start+want])
		Brelse(b, c)
		tot += want
		off += want
	}
	return tot
}

// dirCache memoizes (dev, dir inum, name) -> inum. Directory contents
// never change once mounted (§4.G's non-goals exclude writes), so a
// lookup cached here never needs invalidating.
var dirCache = hashtable.MkHash(256)

func dirCacheKey(dev int, dirInum uint32, name string) ustr.Ustr {
	return ustr.Ustr(fmt.Sprintf("%d:%d:%s", dev, dirInum, name))
}

/// Dirlookup streams dir's directory entries looking for name, returning
/// the matching inode number (§4.G). dir must not be locked by the caller;
/// Dirlookup locks and unlocks it itself.
func Dirlookup(dir *Inode_t, name string, p *proc.Proc_t, c *cpu.Cpu_t) (uint32, defs.Err_t) {
	key := dirCacheKey(dir.Dev, dir.Inum, name)
	if v, ok := dirCache.Get(key); ok {
		return v.(uint32), 0
	}

	Ilock(dir, p, c)
	isDir := dir.Dinode.Mode&S_IFMT == S_IFDIR
	Iunlock(dir, c)
	if !isDir {
		return 0, -defs.ENOTDIR
	}

	buf := make([]byte, BSIZE)
	var off uint32
	for {
		Ilock(dir, p, c)
		n := Readi(dir, off, buf, p, c)
		Iunlock(dir, c)
		if n == 0 {
			break
		}
		pos := 0
		for pos < int(n) {
			inum := binary.LittleEndian.Uint32(buf[pos:])
			recLen := binary.LittleEndian.Uint16(buf[pos+4:])
			nameLen := buf[pos+6]
			if inum != 0 {
				cand := string(buf[pos+8 : pos+8+int(nameLen)])
				if cand == name {
					dirCache.Set(key, inum)
					return inum, 0
				}
			}
			if recLen == 0 {
				break
			}
			pos += int(recLen)
		}
		off += BSIZE
	}
	return 0, -defs.ENOENT
}

/// Namei resolves an absolute slash-separated path from the root inode by
/// repeated Dirlookup calls. Chdir/relative paths are not in the syscall
/// table (§6) this kernel implements, so no working-directory state is
/// threaded through here.
func Namei(path string, p *proc.Proc_t, c *cpu.Cpu_t) (*Inode_t, defs.Err_t) {
	cur := Iget(sbDev, ROOT_INO, c)
	if path == "/" || path == "" {
		return cur, 0
	}
	comp := ""
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if comp != "" {
				inum, err := Dirlookup(cur, comp, p, c)
				Iput(cur, c)
				if err != 0 {
					return nil, err
				}
				cur = Iget(sbDev, inum, c)
			}
			comp = ""
		} else {
			comp += string(path[i])
		}
	}
	return cur, 0
}
