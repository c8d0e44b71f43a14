// Package wire implements the serialization contract: a byte-oriented
// codec for log entries and every RPC message, required only to
// round-trip (decode(encode(x)) == x). A Raft node never depends on a
// concrete wire format — only on the Serializer interface — so swapping
// gob for a schema-compiled format later touches only this package.
//
// gob is used deliberately (see DESIGN.md): this is a private,
// same-process wire format with no cross-language requirement, which is
// exactly the situation the standard library's own codec targets.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/kythira/raft/internal/raft"
)

// Serializer is the byte-level encode/decode contract the core depends on.
type Serializer interface {
	EncodeLogEntry(e raft.LogEntry) ([]byte, error)
	DecodeLogEntry(b []byte) (raft.LogEntry, error)

	EncodeConfiguration(c raft.Configuration) ([]byte, error)
	DecodeConfiguration(b []byte) (raft.Configuration, error)

	EncodeRequestVoteArgs(a raft.RequestVoteArgs) ([]byte, error)
	DecodeRequestVoteArgs(b []byte) (raft.RequestVoteArgs, error)
	EncodeRequestVoteReply(r raft.RequestVoteReply) ([]byte, error)
	DecodeRequestVoteReply(b []byte) (raft.RequestVoteReply, error)

	EncodeAppendEntriesArgs(a raft.AppendEntriesArgs) ([]byte, error)
	DecodeAppendEntriesArgs(b []byte) (raft.AppendEntriesArgs, error)
	EncodeAppendEntriesReply(r raft.AppendEntriesReply) ([]byte, error)
	DecodeAppendEntriesReply(b []byte) (raft.AppendEntriesReply, error)

	EncodeInstallSnapshotArgs(a raft.InstallSnapshotArgs) ([]byte, error)
	DecodeInstallSnapshotArgs(b []byte) (raft.InstallSnapshotArgs, error)
	EncodeInstallSnapshotReply(r raft.InstallSnapshotReply) ([]byte, error)
	DecodeInstallSnapshotReply(b []byte) (raft.InstallSnapshotReply, error)
}

// GobSerializer is the default Serializer, grounded on encoding/gob.
type GobSerializer struct{}

// NewGobSerializer constructs the default serializer.
func NewGobSerializer() *GobSerializer { return &GobSerializer{} }

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode[T any](b []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return v, fmt.Errorf("wire: decode: %w", err)
	}
	return v, nil
}

func (GobSerializer) EncodeLogEntry(e raft.LogEntry) ([]byte, error) { return encode(e) }
func (GobSerializer) DecodeLogEntry(b []byte) (raft.LogEntry, error) {
	return decode[raft.LogEntry](b)
}

func (GobSerializer) EncodeConfiguration(c raft.Configuration) ([]byte, error) { return encode(c) }
func (GobSerializer) DecodeConfiguration(b []byte) (raft.Configuration, error) {
	return decode[raft.Configuration](b)
}

func (GobSerializer) EncodeRequestVoteArgs(a raft.RequestVoteArgs) ([]byte, error) {
	return encode(a)
}
func (GobSerializer) DecodeRequestVoteArgs(b []byte) (raft.RequestVoteArgs, error) {
	return decode[raft.RequestVoteArgs](b)
}
func (GobSerializer) EncodeRequestVoteReply(r raft.RequestVoteReply) ([]byte, error) {
	return encode(r)
}
func (GobSerializer) DecodeRequestVoteReply(b []byte) (raft.RequestVoteReply, error) {
	return decode[raft.RequestVoteReply](b)
}

func (GobSerializer) EncodeAppendEntriesArgs(a raft.AppendEntriesArgs) ([]byte, error) {
	return encode(a)
}
func (GobSerializer) DecodeAppendEntriesArgs(b []byte) (raft.AppendEntriesArgs, error) {
	return decode[raft.AppendEntriesArgs](b)
}
func (GobSerializer) EncodeAppendEntriesReply(r raft.AppendEntriesReply) ([]byte, error) {
	return encode(r)
}
func (GobSerializer) DecodeAppendEntriesReply(b []byte) (raft.AppendEntriesReply, error) {
	return decode[raft.AppendEntriesReply](b)
}

func (GobSerializer) EncodeInstallSnapshotArgs(a raft.InstallSnapshotArgs) ([]byte, error) {
	return encode(a)
}
func (GobSerializer) DecodeInstallSnapshotArgs(b []byte) (raft.InstallSnapshotArgs, error) {
	return decode[raft.InstallSnapshotArgs](b)
}
func (GobSerializer) EncodeInstallSnapshotReply(r raft.InstallSnapshotReply) ([]byte, error) {
	return encode(r)
}
func (GobSerializer) DecodeInstallSnapshotReply(b []byte) (raft.InstallSnapshotReply, error) {
	return decode[raft.InstallSnapshotReply](b)
}
