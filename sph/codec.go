// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import (
	"encoding/binary"
	"io"
)

// The persisted format is little-endian fixed-width integers and raw
// float32 bytes, with no framing or checksum: the reader must already know
// the schema, exactly as laid out in hierarchy.cpp's write/read pair. Go's
// io.Writer/io.Reader stand in for the reference's Stream_Writer/Reader.

func writeInt(w io.Writer, v int) error {
	return binary.Write(w, binary.LittleEndian, int32(v))
}

func readInt(r io.Reader) (int, error) {
	var v int32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return int(v), nil
}

func writeInts(w io.Writer, buf IntBuffer) error {
	for _, v := range buf {
		if err := writeInt(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readInts(r io.Reader, n int) (IntBuffer, error) {
	buf := NewIntBuffer(n)
	for i := range buf {
		v, err := readInt(r)
		if err != nil {
			return nil, err
		}
		buf[i] = v
	}
	return buf, nil
}

func writeFloats(w io.Writer, buf FloatBuffer) error {
	for _, v := range buf {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readFloats(r io.Reader, n int) (FloatBuffer, error) {
	buf := NewFloatBuffer(n)
	for i := range buf {
		if err := binary.Read(r, binary.LittleEndian, &buf[i]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func writeBytes(w io.Writer, buf ByteBuffer) error {
	_, err := w.Write(buf)
	return err
}

func readBytes(r io.Reader, n int) (ByteBuffer, error) {
	buf := NewByteBuffer(n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeInt3(w io.Writer, v Int3) error {
	if err := writeInt(w, v.X); err != nil {
		return err
	}
	if err := writeInt(w, v.Y); err != nil {
		return err
	}
	return writeInt(w, v.Z)
}

func readInt3(r io.Reader) (Int3, error) {
	x, err := readInt(r)
	if err != nil {
		return Int3{}, err
	}
	y, err := readInt(r)
	if err != nil {
		return Int3{}, err
	}
	z, err := readInt(r)
	if err != nil {
		return Int3{}, err
	}
	return Int3{X: x, Y: y, Z: z}, nil
}

func writeUint64(w io.Writer, v uint64) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func binaryWriteFloat32(w io.Writer, v float32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func binaryReadFloat32(r io.Reader) (float32, error) {
	var v float32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func writeBool(w io.Writer, v bool) error {
	var b byte
	if v {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}
