package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/google/uuid"
	"policyrag/internal/domain"
)

// Vector file layout, little endian:
//
//	magic "PRVX" | version u16 | metric u8 | dimension u32 | count u64 |
//	nextID u64 | snapshot [16]byte | count * (id u64, dimension * f32) | crc32
//
// The snapshot id is shared with the metadata sidecar so files from different
// saves are never paired.
const (
	vectorFileMagic   = "PRVX"
	vectorFileVersion = 1
	vectorHeaderSize  = 4 + 2 + 1 + 4 + 8 + 8 + 16
)

type vectorFileHeader struct {
	Metric    domain.Metric
	Dimension int
	Count     int
	NextID    domain.EntryID
	Snapshot  uuid.UUID
}

type vectorRecord struct {
	ID     domain.EntryID
	Vector []float32
}

func metricCode(m domain.Metric) uint8 {
	if m == domain.MetricL2 {
		return 1
	}
	return 0
}

func metricFromCode(c uint8) (domain.Metric, error) {
	switch c {
	case 0:
		return domain.MetricCosine, nil
	case 1:
		return domain.MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric code %d", c)
	}
}

func writeVectorFile(path string, h vectorFileHeader, records []record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	w := bufio.NewWriter(io.MultiWriter(f, crc))

	hdr := make([]byte, vectorHeaderSize)
	copy(hdr[0:4], vectorFileMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], vectorFileVersion)
	hdr[6] = metricCode(h.Metric)
	binary.LittleEndian.PutUint32(hdr[7:11], uint32(h.Dimension))
	binary.LittleEndian.PutUint64(hdr[11:19], uint64(h.Count))
	binary.LittleEndian.PutUint64(hdr[19:27], uint64(h.NextID))
	copy(hdr[27:43], h.Snapshot[:])

	if _, err := w.Write(hdr); err != nil {
		f.Close()
		return err
	}

	buf := make([]byte, 8+4*h.Dimension)
	for _, r := range records {
		binary.LittleEndian.PutUint64(buf[0:8], uint64(r.entry.ID))
		for i, x := range r.entry.Vector {
			binary.LittleEndian.PutUint32(buf[8+4*i:], math.Float32bits(x))
		}
		if _, err := w.Write(buf); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], crc.Sum32())
	if _, err := f.Write(trailer[:]); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readVectorFile(path string) (vectorFileHeader, []vectorRecord, error) {
	var h vectorFileHeader

	data, err := os.ReadFile(path)
	if err != nil {
		return h, nil, err
	}
	if len(data) < vectorHeaderSize+4 {
		return h, nil, errors.New("vector file truncated")
	}

	body := data[:len(data)-4]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(data[len(data)-4:]); got != want {
		return h, nil, fmt.Errorf("vector file checksum mismatch (%08x != %08x)", got, want)
	}

	if string(body[0:4]) != vectorFileMagic {
		return h, nil, errors.New("not a vector file")
	}
	if v := binary.LittleEndian.Uint16(body[4:6]); v != vectorFileVersion {
		return h, nil, fmt.Errorf("unsupported vector file version %d", v)
	}
	if h.Metric, err = metricFromCode(body[6]); err != nil {
		return h, nil, err
	}
	h.Dimension = int(binary.LittleEndian.Uint32(body[7:11]))
	count := binary.LittleEndian.Uint64(body[11:19])
	h.NextID = domain.EntryID(binary.LittleEndian.Uint64(body[19:27]))
	copy(h.Snapshot[:], body[27:43])

	if h.Dimension <= 0 {
		return h, nil, fmt.Errorf("invalid dimension %d", h.Dimension)
	}
	recSize := uint64(8 + 4*h.Dimension)
	payload := uint64(len(body) - vectorHeaderSize)
	if payload%recSize != 0 || payload/recSize != count {
		return h, nil, fmt.Errorf("vector file holds %d bytes of records, header promises %d entries", payload, count)
	}
	h.Count = int(count)

	records := make([]vectorRecord, h.Count)
	off := vectorHeaderSize
	var prev domain.EntryID
	for i := range records {
		id := domain.EntryID(binary.LittleEndian.Uint64(body[off : off+8]))
		if id == 0 || id <= prev || id >= h.NextID {
			return h, nil, fmt.Errorf("entry id %d out of order or beyond next id %d", id, h.NextID)
		}
		prev = id

		vec := make([]float32, h.Dimension)
		for j := range vec {
			p := off + 8 + 4*j
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[p : p+4]))
		}
		records[i] = vectorRecord{ID: id, Vector: vec}
		off += int(recSize)
	}

	return h, records, nil
}
