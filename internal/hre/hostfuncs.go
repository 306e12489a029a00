package hre

import (
	"context"
	"crypto/sha256"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"

	"github.com/hermes-engine/hermes/internal/vfs"
)

// readGuestString copies a (ptr,len) guest string out of module memory.
func readGuestString(mod api.Module, ptr, length uint32) string {
	if length == 0 {
		return ""
	}
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return ""
	}
	return string(buf)
}

func readGuestBytes(mod api.Module, ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return cp
}

// writeToGuest allocates length(out) bytes in guest memory via the
// module's exported malloc and writes out into it, returning a packed
// (ptr<<32|len) result the same way the reference engine's writeToGuest
// helper does. Returns 0 if the module exports no malloc or out is empty.
func writeToGuest(ctx context.Context, mod api.Module, out []byte) uint64 {
	if len(out) == 0 {
		return 0
	}
	mallocFn := mod.ExportedFunction("malloc")
	if mallocFn == nil {
		return 0
	}
	results, err := mallocFn.Call(ctx, uint64(len(out)))
	if err != nil {
		return 0
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, out) {
		return 0
	}
	return uint64(ptr) | uint64(len(out))<<32
}

func (s *Surface) hKVGet(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
	cc := callContextOrTrap(ctx)
	if s.providers.KV == nil {
		return 0
	}
	key := readGuestString(mod, keyPtr, keyLen)
	val, ok, err := s.providers.KV.Get(ctx, cc.AppName, key)
	if err != nil || !ok {
		return 0
	}
	return writeToGuest(ctx, mod, val)
}

func (s *Surface) hKVSet(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
	cc := callContextOrTrap(ctx)
	if s.providers.KV == nil {
		return 0
	}
	key := readGuestString(mod, keyPtr, keyLen)
	val := readGuestBytes(mod, valPtr, valLen)
	if err := s.providers.KV.Set(ctx, cc.AppName, key, val); err != nil {
		return 0
	}
	return 1
}

func (s *Surface) hCronAdd(ctx context.Context, mod api.Module, schedulePtr, scheduleLen, tagPtr, tagLen uint32, retrigger uint32) uint32 {
	cc := callContextOrTrap(ctx)
	if s.providers.Cron == nil {
		return 0
	}
	schedule := readGuestString(mod, schedulePtr, scheduleLen)
	tag := readGuestString(mod, tagPtr, tagLen)
	if err := s.providers.Cron.Add(ctx, cc.AppName, schedule, tag, retrigger != 0); err != nil {
		return 0
	}
	return 1
}

func (s *Surface) hLocaltimeNow(ctx context.Context, mod api.Module) int64 {
	callContextOrTrap(ctx)
	if s.providers.Localtime == nil {
		return 0
	}
	return s.providers.Localtime.Now(ctx)
}

func (s *Surface) hCryptoSha256(ctx context.Context, mod api.Module, dataPtr, dataLen uint32) uint64 {
	callContextOrTrap(ctx)
	data := readGuestBytes(mod, dataPtr, dataLen)
	if s.providers.Crypto != nil {
		sum := s.providers.Crypto.Sha256(ctx, data)
		return writeToGuest(ctx, mod, sum)
	}
	sum := sha256.Sum256(data)
	return writeToGuest(ctx, mod, sum[:])
}

func (s *Surface) hIPFSPublish(ctx context.Context, mod api.Module, topicPtr, topicLen, dataPtr, dataLen uint32) uint32 {
	callContextOrTrap(ctx)
	if s.providers.IPFS == nil {
		return 0
	}
	topic := readGuestString(mod, topicPtr, topicLen)
	data := readGuestBytes(mod, dataPtr, dataLen)
	if err := s.providers.IPFS.Publish(ctx, topic, data); err != nil {
		return 0
	}
	return 1
}

func (s *Surface) hLogInfo(ctx context.Context, mod api.Module, msgPtr, msgLen uint32) {
	cc := callContextOrTrap(ctx)
	msg := readGuestString(mod, msgPtr, msgLen)
	s.log.With(nil).
		WithField("app", cc.AppName).
		WithField("module", cc.ModuleID).
		Info(msg)
}

func (s *Surface) hCronList(ctx context.Context, mod api.Module) uint64 {
	cc := callContextOrTrap(ctx)
	if s.providers.Cron == nil {
		return 0
	}
	entries, err := s.providers.Cron.List(ctx, cc.AppName)
	if err != nil {
		return 0
	}
	out, err := json.Marshal(entries)
	if err != nil {
		return 0
	}
	return writeToGuest(ctx, mod, out)
}

func (s *Surface) hCronRemove(ctx context.Context, mod api.Module, tagPtr, tagLen uint32) uint32 {
	cc := callContextOrTrap(ctx)
	if s.providers.Cron == nil {
		return 0
	}
	tag := readGuestString(mod, tagPtr, tagLen)
	if err := s.providers.Cron.Remove(ctx, cc.AppName, tag); err != nil {
		return 0
	}
	return 1
}

func (s *Surface) hCryptoRandomBytes(ctx context.Context, mod api.Module, n uint32) uint64 {
	callContextOrTrap(ctx)
	if s.providers.Crypto == nil {
		return 0
	}
	buf, err := s.providers.Crypto.RandomBytes(ctx, int(n))
	if err != nil {
		return 0
	}
	return writeToGuest(ctx, mod, buf)
}

// hVFSOpen opens path against the calling application's VFS and stashes the
// resulting handle under a fresh id scoped to this module call (spec §4.3);
// the guest passes that id back into vfs_read/vfs_write. Returns 0
// (never a valid id) on any failure, including a nil VFS.
func (s *Surface) hVFSOpen(ctx context.Context, mod api.Module, pathPtr, pathLen, mode uint32) uint32 {
	cc := callContextOrTrap(ctx)
	if cc.VFS == nil {
		return 0
	}
	path := readGuestString(mod, pathPtr, pathLen)
	h, err := cc.VFS.Open(ctx, path, vfs.OpenMode(mode))
	if err != nil {
		return 0
	}
	return cc.PutHandle(h)
}

func (s *Surface) hVFSRead(ctx context.Context, mod api.Module, handle uint32, off int64, length uint32) uint64 {
	cc := callContextOrTrap(ctx)
	if cc.VFS == nil {
		return 0
	}
	h, ok := cc.GetHandle(handle)
	if !ok {
		return 0
	}
	data, err := cc.VFS.Read(h, off, int(length))
	if err != nil {
		return 0
	}
	return writeToGuest(ctx, mod, data)
}

func (s *Surface) hVFSWrite(ctx context.Context, mod api.Module, handle uint32, off int64, dataPtr, dataLen uint32) uint32 {
	cc := callContextOrTrap(ctx)
	if cc.VFS == nil {
		return 0
	}
	h, ok := cc.GetHandle(handle)
	if !ok {
		return 0
	}
	data := readGuestBytes(mod, dataPtr, dataLen)
	n, err := cc.VFS.Write(h, off, data)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func (s *Surface) hVFSList(ctx context.Context, mod api.Module, pathPtr, pathLen uint32) uint64 {
	cc := callContextOrTrap(ctx)
	if cc.VFS == nil {
		return 0
	}
	path := readGuestString(mod, pathPtr, pathLen)
	entries, err := cc.VFS.List(path)
	if err != nil {
		return 0
	}
	out, err := json.Marshal(entries)
	if err != nil {
		return 0
	}
	return writeToGuest(ctx, mod, out)
}

func (s *Surface) hVFSStat(ctx context.Context, mod api.Module, pathPtr, pathLen uint32) uint64 {
	cc := callContextOrTrap(ctx)
	if cc.VFS == nil {
		return 0
	}
	path := readGuestString(mod, pathPtr, pathLen)
	info, err := cc.VFS.Stat(path)
	if err != nil {
		return 0
	}
	out, err := json.Marshal(info)
	if err != nil {
		return 0
	}
	return writeToGuest(ctx, mod, out)
}

func (s *Surface) hSQLiteExec(ctx context.Context, mod api.Module, queryPtr, queryLen uint32) uint32 {
	cc := callContextOrTrap(ctx)
	if s.providers.SQLite == nil {
		return 0
	}
	query := readGuestString(mod, queryPtr, queryLen)
	if err := s.providers.SQLite.Exec(ctx, cc.AppName, query); err != nil {
		return 0
	}
	return 1
}

func (s *Surface) hSQLiteQuery(ctx context.Context, mod api.Module, queryPtr, queryLen uint32) uint64 {
	cc := callContextOrTrap(ctx)
	if s.providers.SQLite == nil {
		return 0
	}
	query := readGuestString(mod, queryPtr, queryLen)
	rows, err := s.providers.SQLite.Query(ctx, cc.AppName, query)
	if err != nil {
		return 0
	}
	out, err := json.Marshal(rows)
	if err != nil {
		return 0
	}
	return writeToGuest(ctx, mod, out)
}
