package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"bayesnet/internal/model"
)

// Weight samples are stored in a compact little-endian layout:
//
//	magic "BNWS" | schema u16 | codec u16 | count u32
//	per sample: epoch i64 | params u32
//	per param:  name len u16 | name | rank u16 | dims u32... | values f64...
//
// Values are written as raw IEEE-754 bits so a round trip is exact.
var sampleMagic = [4]byte{'B', 'N', 'W', 'S'}

var ErrCorruptSamples = errors.New("corrupt weight sample payload")

func EncodeWeightSamples(samples []model.WeightSample) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeWeightSamples(&buf, samples); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeWeightSamples(data []byte) ([]model.WeightSample, error) {
	return readWeightSamples(bytes.NewReader(data), int64(len(data)))
}

// WriteSampleFile persists samples to path, replacing any previous file atomically.
func WriteSampleFile(path string, samples []model.WeightSample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".samples-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := writeWeightSamples(w, samples); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ReadSampleFile(path string) ([]model.WeightSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	samples, err := readWeightSamples(bufio.NewReader(f), info.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return samples, nil
}

func writeWeightSamples(w io.Writer, samples []model.WeightSample) error {
	if len(samples) > math.MaxUint32 {
		return fmt.Errorf("too many samples: %d", len(samples))
	}
	header := struct {
		Magic  [4]byte
		Schema uint16
		Codec  uint16
		Count  uint32
	}{sampleMagic, CurrentSchemaVersion, CurrentCodecVersion, uint32(len(samples))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}

	for i, sample := range samples {
		if err := sample.Params.Validate(); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, int64(sample.Epoch)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(sample.Params))); err != nil {
			return err
		}
		for _, p := range sample.Params {
			if len(p.Name) > math.MaxUint16 || len(p.Shape) > math.MaxUint16 {
				return fmt.Errorf("sample %d: parameter %s does not fit the encoding", i, p.Name)
			}
			if err := binary.Write(w, binary.LittleEndian, uint16(len(p.Name))); err != nil {
				return err
			}
			if _, err := io.WriteString(w, p.Name); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint16(len(p.Shape))); err != nil {
				return err
			}
			dims := make([]uint32, len(p.Shape))
			for k, d := range p.Shape {
				dims[k] = uint32(d)
			}
			if err := binary.Write(w, binary.LittleEndian, dims); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, p.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// readWeightSamples decodes a payload of at most size bytes; size bounds every allocation
// so a corrupt header cannot request more memory than the payload could describe.
func readWeightSamples(r io.Reader, size int64) ([]model.WeightSample, error) {
	var header struct {
		Magic  [4]byte
		Schema uint16
		Codec  uint16
		Count  uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptSamples, err)
	}
	if header.Magic != sampleMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSamples)
	}
	if header.Schema != CurrentSchemaVersion || header.Codec != CurrentCodecVersion {
		return nil, ErrVersionMismatch
	}
	if int64(header.Count)*12 > size {
		return nil, fmt.Errorf("%w: %d samples cannot fit in %d bytes", ErrCorruptSamples, header.Count, size)
	}

	samples := make([]model.WeightSample, 0, header.Count)
	for i := uint32(0); i < header.Count; i++ {
		var epoch int64
		var nparams uint32
		if err := binary.Read(r, binary.LittleEndian, &epoch); err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrCorruptSamples, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &nparams); err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrCorruptSamples, i, err)
		}
		if int64(nparams)*4 > size {
			return nil, fmt.Errorf("%w: sample %d claims %d parameters", ErrCorruptSamples, i, nparams)
		}
		params := make(model.ParameterVector, 0, nparams)
		for j := uint32(0); j < nparams; j++ {
			p, err := readParam(r, size)
			if err != nil {
				return nil, fmt.Errorf("%w: sample %d param %d: %v", ErrCorruptSamples, i, j, err)
			}
			params = append(params, p)
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrCorruptSamples, i, err)
		}
		samples = append(samples, model.WeightSample{Epoch: int(epoch), Params: params})
	}
	return samples, nil
}

func readParam(r io.Reader, size int64) (model.Param, error) {
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return model.Param{}, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return model.Param{}, err
	}
	var rank uint16
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return model.Param{}, err
	}
	dims := make([]uint32, rank)
	if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
		return model.Param{}, err
	}
	shape := make([]int, rank)
	n := int64(1)
	for k, d := range dims {
		shape[k] = int(d)
		n *= int64(d)
		if n*8 > size {
			return model.Param{}, fmt.Errorf("shape %v exceeds payload", dims)
		}
	}
	data := make([]float64, n)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return model.Param{}, err
	}
	return model.Param{Name: string(name), Shape: shape, Data: data}, nil
}
