package device

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"pintosgo/internal/common"
)

// FileBlockDevice is a BlockDevice backed by a real file, using
// golang.org/x/sys/unix's Pread/Pwrite for positioned I/O so concurrent
// sector accesses don't require a shared file offset (the pattern
// ehrlich-b-go-ublk and kornnellio-runc-Go both use for loop/block-device
// files).
type FileBlockDevice struct {
	f        *os.File
	nSectors int64
	mu       sync.Mutex
}

// OpenFileBlockDevice opens (creating if necessary) a file-backed block
// device of nSectors common.SectorSize-byte sectors.
func OpenFileBlockDevice(path string, nSectors int64) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	size := nSectors * common.SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &FileBlockDevice{f: f, nSectors: nSectors}, nil
}

func (d *FileBlockDevice) NumSectors() int64 { return d.nSectors }

func (d *FileBlockDevice) ReadSector(sector int64, buf []byte) error {
	if sector < 0 || sector >= d.nSectors {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.nSectors)
	}
	if len(buf) != common.SectorSize {
		return fmt.Errorf("blockdev: buf must be %d bytes", common.SectorSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := unix.Pread(int(d.f.Fd()), buf, sector*common.SectorSize)
	if err != nil {
		return err
	}
	if n != common.SectorSize {
		return fmt.Errorf("blockdev: short read of %d bytes", n)
	}
	return nil
}

func (d *FileBlockDevice) WriteSector(sector int64, buf []byte) error {
	if sector < 0 || sector >= d.nSectors {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.nSectors)
	}
	if len(buf) != common.SectorSize {
		return fmt.Errorf("blockdev: buf must be %d bytes", common.SectorSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := unix.Pwrite(int(d.f.Fd()), buf, sector*common.SectorSize)
	if err != nil {
		return err
	}
	if n != common.SectorSize {
		return fmt.Errorf("blockdev: short write of %d bytes", n)
	}
	return nil
}

func (d *FileBlockDevice) Close() error {
	return d.f.Close()
}

// MemBlockDevice is an in-memory BlockDevice for tests: no ecosystem
// library in the pack offers an in-memory block device fake, so this is
// plain stdlib bookkeeping over a byte slice.
type MemBlockDevice struct {
	mu       sync.Mutex
	sectors  [][]byte
	nSectors int64
}

func NewMemBlockDevice(nSectors int64) *MemBlockDevice {
	sectors := make([][]byte, nSectors)
	for i := range sectors {
		sectors[i] = make([]byte, common.SectorSize)
	}
	return &MemBlockDevice{sectors: sectors, nSectors: nSectors}
}

func (d *MemBlockDevice) NumSectors() int64 { return d.nSectors }

func (d *MemBlockDevice) ReadSector(sector int64, buf []byte) error {
	if sector < 0 || sector >= d.nSectors {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.nSectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(buf, d.sectors[sector])
	return nil
}

func (d *MemBlockDevice) WriteSector(sector int64, buf []byte) error {
	if sector < 0 || sector >= d.nSectors {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", sector, d.nSectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.sectors[sector], buf)
	return nil
}
