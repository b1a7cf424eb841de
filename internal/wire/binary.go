package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

type binaryWriter struct {
	buf bytes.Buffer
}

func (w *binaryWriter) writeUint8(v uint8) {
	_ = w.buf.WriteByte(v)
}

func (w *binaryWriter) writeBool(v bool) {
	if v {
		w.writeUint8(1)
		return
	}
	w.writeUint8(0)
}

func (w *binaryWriter) writeUint16(v uint16) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *binaryWriter) writeUint32(v uint32) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *binaryWriter) writeUint64(v uint64) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *binaryWriter) writeInt64(v int64) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *binaryWriter) writeFloat32(v float32) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *binaryWriter) writeString(v string) {
	b := []byte(v)
	if len(b) > math.MaxUint16 {
		b = b[:math.MaxUint16]
	}
	w.writeUint16(uint16(len(b)))
	_, _ = w.buf.Write(b)
}

func (w *binaryWriter) bytes() []byte {
	return w.buf.Bytes()
}

type binaryReader struct {
	data   []byte
	offset int
}

func (r *binaryReader) readUint8() (uint8, error) {
	if r.offset+1 > len(r.data) {
		return 0, fmt.Errorf("out of bounds")
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *binaryReader) readBool() (bool, error) {
	v, err := r.readUint8()
	return v != 0, err
}

func (r *binaryReader) readUint16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, fmt.Errorf("out of bounds")
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *binaryReader) readUint32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, fmt.Errorf("out of bounds")
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *binaryReader) readUint64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, fmt.Errorf("out of bounds")
	}
	v := binary.BigEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *binaryReader) readInt64() (int64, error) {
	v, err := r.readUint64()
	return int64(v), err
}

func (r *binaryReader) readFloat32() (float32, error) {
	if r.offset+4 > len(r.data) {
		return 0, fmt.Errorf("out of bounds")
	}
	bits := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return math.Float32frombits(bits), nil
}

func (r *binaryReader) readString() (string, error) {
	length, err := r.readUint16()
	if err != nil {
		return "", err
	}
	if r.offset+int(length) > len(r.data) {
		return "", fmt.Errorf("out of bounds")
	}
	v := string(r.data[r.offset : r.offset+int(length)])
	r.offset += int(length)
	return v, nil
}
