package vamana

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/vamanadb/vamanadb/internal/pq"
	"github.com/vamanadb/vamanadb/internal/vecmath"
)

const pageHeaderSize = 4
const basePageSize = 4096

// diskLayout is the page-packed on-disk geometry for a graph of
// dimension d with degree bound m (spec.md §4.6, §6): one vertex record
// is D float32s + M int32 edge slots + a one-byte edge count, rounded up
// to 4-byte alignment. Pages are ⌈recordSize / (4096-4)⌉ * 4096 bytes,
// which always fits at least one record plus its 4-byte vertex-count
// header.
type diskLayout struct {
	d, m            int
	recordSize      int
	pageSize        int
	verticesPerPage int
}

func newDiskLayout(d, m int) diskLayout {
	recordSize := d*4 + m*4 + 1
	recordSize = (recordSize + 3) / 4 * 4

	usable := basePageSize - pageHeaderSize
	pages := (recordSize + usable - 1) / usable
	pageSize := pages * basePageSize

	return diskLayout{
		d:               d,
		m:               m,
		recordSize:      recordSize,
		pageSize:        pageSize,
		verticesPerPage: (pageSize - pageHeaderSize) / recordSize,
	}
}

// recordOffset is spec.md §4.6's recordOffset(v): pages[v/verticesPerPage]
// + (v mod verticesPerPage) * recordSize + 4, skipping the page header.
func (l diskLayout) recordOffset(v int, pages []int64) int64 {
	page := v / l.verticesPerPage
	slot := v % l.verticesPerPage
	return pages[page] + int64(slot)*int64(l.recordSize) + pageHeaderSize
}

// pagesToWrite is ⌈size / verticesPerPage⌉, spelled out with parentheses
// unlike the source this spec was transcribed from (spec.md §9 design
// note (b): the unparenthesized form is a bug).
func (l diskLayout) pagesToWrite(size int) int {
	return (size + l.verticesPerPage - 1) / l.verticesPerPage
}

// DiskGraph is the read-only, disk-resident form of a built Graph: a
// page-packed vector+edges file plus a sidecar carrying the page-index
// map, the PQ codebooks, the PQ codes, and the vector-id -> external-id
// map.
type DiskGraph struct {
	mu          sync.RWMutex
	file        *os.File
	layout      diskLayout
	pages       []int64
	n           int
	medoid      uint64
	metric      vecmath.Metric
	quantizer   *pq.Quantizer
	codes       []byte
	externalIDs [][]byte
}

// SaveToDisk writes g, its medoid, PQ codebooks and codes, and an
// optional external-id map to path+".graph" and path+".sidecar".
func SaveToDisk(path string, g *Graph, medoid uint64, quantizer *pq.Quantizer, codes []byte, externalIDs [][]byte) error {
	layout := newDiskLayout(g.D(), g.M())
	numPages := layout.pagesToWrite(g.N())

	graphFile, err := os.Create(path + ".graph")
	if err != nil {
		return fmt.Errorf("vamana: creating graph file: %w", err)
	}
	defer graphFile.Close()

	pages := make([]int64, numPages)
	buf := make([]byte, layout.pageSize)
	for p := 0; p < numPages; p++ {
		pages[p] = int64(p) * int64(layout.pageSize)
		for i := range buf {
			buf[i] = 0
		}
		binary.LittleEndian.PutUint32(buf[0:], uint32(g.N()))

		start := p * layout.verticesPerPage
		end := start + layout.verticesPerPage
		if end > g.N() {
			end = g.N()
		}
		for v := start; v < end; v++ {
			off := pageHeaderSize + (v-start)*layout.recordSize
			writeRecord(buf[off:off+layout.recordSize], g, uint64(v), layout)
		}
		if _, err := graphFile.WriteAt(buf, pages[p]); err != nil {
			return fmt.Errorf("vamana: writing page %d: %w", p, err)
		}
	}
	if err := graphFile.Sync(); err != nil {
		return fmt.Errorf("vamana: syncing graph file: %w", err)
	}

	return saveSidecar(path+".sidecar", g, medoid, pages, quantizer, codes, externalIDs)
}

func writeRecord(buf []byte, g *Graph, v uint64, layout diskLayout) {
	vec := g.Vector(v)
	for d := 0; d < layout.d; d++ {
		binary.LittleEndian.PutUint32(buf[d*4:], math.Float32bits(vec[d]))
	}

	neighbors := g.fetchNeighbours(v)
	edgeBase := layout.d * 4
	count := len(neighbors)
	if count > layout.m {
		count = layout.m
	}
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint32(buf[edgeBase+i*4:], uint32(neighbors[i]))
	}
	buf[edgeBase+layout.m*4] = byte(count)
}

func saveSidecar(path string, g *Graph, medoid uint64, pages []int64, quantizer *pq.Quantizer, codes []byte, externalIDs [][]byte) error {
	var buf bytes.Buffer
	w := func(v any) error { return binary.Write(&buf, binary.LittleEndian, v) }

	if err := w(uint32(g.N())); err != nil {
		return err
	}
	if err := w(medoid); err != nil {
		return err
	}
	if err := w(uint32(g.D())); err != nil {
		return err
	}
	if err := w(uint32(g.M())); err != nil {
		return err
	}
	if err := w(uint32(len(pages))); err != nil {
		return err
	}
	for _, p := range pages {
		if err := w(p); err != nil {
			return err
		}
	}

	var qBytes []byte
	if quantizer != nil && quantizer.Trained() {
		var err error
		qBytes, err = quantizer.Marshal()
		if err != nil {
			return fmt.Errorf("vamana: marshaling PQ codebooks: %w", err)
		}
	}
	if err := w(uint32(len(qBytes))); err != nil {
		return err
	}
	buf.Write(qBytes)

	if err := w(uint32(len(codes))); err != nil {
		return err
	}
	buf.Write(codes)

	if err := w(uint32(len(externalIDs))); err != nil {
		return err
	}
	for _, id := range externalIDs {
		if err := w(uint32(len(id))); err != nil {
			return err
		}
		buf.Write(id)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("vamana: writing sidecar: %w", err)
	}
	return nil
}

// OpenDiskGraph loads path+".sidecar" and opens path+".graph" for
// random-access reads. metric defaults to vecmath.L2 if nil.
func OpenDiskGraph(path string, metric vecmath.Metric, pqCfg pq.Config) (*DiskGraph, error) {
	sidecar, err := os.ReadFile(path + ".sidecar")
	if err != nil {
		return nil, fmt.Errorf("vamana: reading sidecar: %w", err)
	}
	r := bytes.NewReader(sidecar)
	read := func(v any) error { return binary.Read(r, binary.LittleEndian, v) }

	var n uint32
	var medoid uint64
	var d, m, numPages uint32
	if err := read(&n); err != nil {
		return nil, fmt.Errorf("vamana: reading sidecar header: %w", err)
	}
	if err := read(&medoid); err != nil {
		return nil, fmt.Errorf("vamana: reading sidecar header: %w", err)
	}
	if err := read(&d); err != nil {
		return nil, fmt.Errorf("vamana: reading sidecar header: %w", err)
	}
	if err := read(&m); err != nil {
		return nil, fmt.Errorf("vamana: reading sidecar header: %w", err)
	}
	if err := read(&numPages); err != nil {
		return nil, fmt.Errorf("vamana: reading sidecar header: %w", err)
	}

	pages := make([]int64, numPages)
	for i := range pages {
		if err := read(&pages[i]); err != nil {
			return nil, fmt.Errorf("vamana: reading page map: %w", err)
		}
	}

	var qLen uint32
	if err := read(&qLen); err != nil {
		return nil, fmt.Errorf("vamana: reading PQ sidecar length: %w", err)
	}
	var quantizer *pq.Quantizer
	if qLen > 0 {
		qBytes := make([]byte, qLen)
		if _, err := io.ReadFull(r, qBytes); err != nil {
			return nil, fmt.Errorf("vamana: reading PQ sidecar: %w", err)
		}
		quantizer, err = pq.Unmarshal(qBytes, pqCfg)
		if err != nil {
			return nil, fmt.Errorf("vamana: unmarshaling PQ codebooks: %w", err)
		}
	}

	var codesLen uint32
	if err := read(&codesLen); err != nil {
		return nil, fmt.Errorf("vamana: reading PQ codes length: %w", err)
	}
	codes := make([]byte, codesLen)
	if _, err := io.ReadFull(r, codes); err != nil {
		return nil, fmt.Errorf("vamana: reading PQ codes: %w", err)
	}

	var numIDs uint32
	if err := read(&numIDs); err != nil {
		return nil, fmt.Errorf("vamana: reading external-id count: %w", err)
	}
	externalIDs := make([][]byte, numIDs)
	for i := range externalIDs {
		var idLen uint32
		if err := read(&idLen); err != nil {
			return nil, fmt.Errorf("vamana: reading external-id length: %w", err)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, fmt.Errorf("vamana: reading external id: %w", err)
		}
		externalIDs[i] = id
	}

	file, err := os.Open(path + ".graph")
	if err != nil {
		return nil, fmt.Errorf("vamana: opening graph file: %w", err)
	}

	if metric == nil {
		metric = vecmath.L2
	}

	layout := newDiskLayout(int(d), int(m))

	return &DiskGraph{
		file:        file,
		layout:      layout,
		pages:       pages,
		n:           int(n),
		medoid:      medoid,
		metric:      metric,
		quantizer:   quantizer,
		codes:       codes,
		externalIDs: externalIDs,
	}, nil
}

func (dg *DiskGraph) N() int        { return dg.n }
func (dg *DiskGraph) Medoid() uint64 { return dg.medoid }

func (dg *DiskGraph) Close() error { return dg.file.Close() }

func (dg *DiskGraph) readVector(v uint64) ([]float32, error) {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	off := dg.layout.recordOffset(int(v), dg.pages)
	buf := make([]byte, dg.layout.d*4)
	if _, err := dg.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("vamana: reading vector %d: %w", v, err)
	}
	vec := make([]float32, dg.layout.d)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

func (dg *DiskGraph) readNeighbours(v uint64) ([]uint64, error) {
	dg.mu.RLock()
	defer dg.mu.RUnlock()

	off := dg.layout.recordOffset(int(v), dg.pages) + int64(dg.layout.d*4)
	buf := make([]byte, dg.layout.m*4+1)
	if _, err := dg.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("vamana: reading neighbours of %d: %w", v, err)
	}
	count := int(buf[dg.layout.m*4])
	neighbors := make([]uint64, count)
	for i := 0; i < count; i++ {
		neighbors[i] = uint64(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return neighbors, nil
}

func (dg *DiskGraph) readCode(v uint64) []byte {
	q := dg.quantizer.Subspaces()
	return dg.codes[int(v)*q : int(v)*q+q]
}
