package mkfs

import (
	"bytes"
	"testing"

	"cpu"
	"fs"
	"ufs"
)

// TestBuildImageRoundTrip writes a small image with BuildImage and reads it
// straight back through the real ext2 reader in package fs, verifying the
// byte layout the two packages agree on independently of each other.
func TestBuildImageRoundTrip(t *testing.T) {
	files := []File_t{
		{Name: "hello", Data: []byte("hello world\n")},
		{Name: "empty", Data: nil},
	}

	path := t.TempDir() + "/root.img"
	if err := WriteImage(path, files); err != nil {
		t.Fatalf("WriteImage: %v", err)
	}

	disk, err := ufs.Open(path)
	if err != nil {
		t.Fatalf("ufs.Open: %v", err)
	}
	defer disk.Close()

	fs.Init(disk)
	c := &cpu.Cpu_t{}
	fs.Fsinit(nil, c, 0)

	for _, f := range files {
		ip, err := fs.Namei("/"+f.Name, nil, c)
		if err != 0 {
			t.Fatalf("Namei(%q): %d", f.Name, err)
		}
		fs.Ilock(ip, nil, c)
		buf := make([]byte, len(f.Data)+1)
		n := fs.Readi(ip, 0, buf, nil, c)
		fs.Iunlock(ip, c)
		fs.Iput(ip, c)

		if int(n) != len(f.Data) {
			t.Fatalf("%q: read %d bytes, want %d", f.Name, n, len(f.Data))
		}
		if !bytes.Equal(buf[:n], f.Data) {
			t.Fatalf("%q: content mismatch: got %q want %q", f.Name, buf[:n], f.Data)
		}
	}

	if _, err := fs.Namei("/nonexistent", nil, c); err == 0 {
		t.Fatalf("Namei(/nonexistent) should fail")
	}
}

func TestBuildImageRejectsOversizedFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("BuildImage should panic on a file exceeding direct-block capacity")
		}
	}()
	BuildImage([]File_t{{Name: "big", Data: make([]byte, 13*bsize)}})
}
