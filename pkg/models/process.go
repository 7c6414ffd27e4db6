package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExecutionStrategy selects which executor backend handles a request.
type ExecutionStrategy string

const (
	StrategyAuto   ExecutionStrategy = ""
	StrategyLocal  ExecutionStrategy = "local"
	StrategyRemote ExecutionStrategy = "remote"
)

// ExecutionPolicy is the caller-supplied execution environment: which
// platform the process should run on, whether it may be remoted, and the
// cache posture. It is consumed during lifting and never mutated.
type ExecutionPolicy struct {
	Platform   string            `json:"platform"`
	Strategy   ExecutionStrategy `json:"strategy"`
	CacheRead  bool              `json:"cache_read"`
	CacheWrite bool              `json:"cache_write"`
}

// Description is a raw, possibly under-specified process description as
// received at the API boundary. Env entries are "KEY=VALUE" strings; the
// input root is addressed by hash/size.
type Description struct {
	Argv          []string      `json:"argv"`
	Env           []string      `json:"env"`
	WorkingDir    string        `json:"working_dir"`
	InputRootHash string        `json:"input_root_hash"`
	InputRootSize int64         `json:"input_root_size"`
	OutputPaths   []string      `json:"output_paths"`
	Timeout       time.Duration `json:"timeout"`
}

// Request is the canonical, immutable form of a process to execute, produced
// by Lift. Equality over all fields (via Fingerprint) defines whether two
// requests are the same work.
type Request struct {
	Argv        []string
	Env         map[string]string
	WorkingDir  string
	InputRoot   Digest
	OutputPaths []string
	// Timeout of zero means no timeout.
	Timeout time.Duration
	Policy  ExecutionPolicy
}

// Fingerprint identifies a Request for memoization and action caching.
type Fingerprint string

// LiftError reports which field of a raw description was invalid.
type LiftError struct {
	Field string
	Msg   string
}

func (e *LiftError) Error() string {
	return fmt.Sprintf("invalid process %s: %s", e.Field, e.Msg)
}

func liftErrorf(field, format string, args ...any) error {
	return &LiftError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Lift validates and canonicalizes a raw description under the given policy.
// Environment entries are deduplicated by key with last-write-wins, output
// declarations are sorted and deduplicated, and a zero timeout is preserved
// as "no timeout". Lifting is pure: the same description and policy always
// lift to equal Requests.
func Lift(desc Description, policy ExecutionPolicy) (*Request, error) {
	if len(desc.Argv) == 0 {
		return nil, liftErrorf("argv", "at least one argument is required")
	}
	if desc.Argv[0] == "" {
		return nil, liftErrorf("argv", "program name is empty")
	}

	env := make(map[string]string, len(desc.Env))
	for _, entry := range desc.Env {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, liftErrorf("env", "malformed entry %q: want KEY=VALUE", entry)
		}
		env[key] = value
	}

	inputRoot, err := liftInputRoot(desc.InputRootHash, desc.InputRootSize)
	if err != nil {
		return nil, err
	}

	outputs := make([]string, 0, len(desc.OutputPaths))
	seen := make(map[string]struct{}, len(desc.OutputPaths))
	for _, p := range desc.OutputPaths {
		if p == "" {
			return nil, liftErrorf("output_paths", "empty output path")
		}
		if strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
			return nil, liftErrorf("output_paths", "output path %q must be relative and contained", p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		outputs = append(outputs, p)
	}
	sort.Strings(outputs)

	if desc.Timeout < 0 {
		return nil, liftErrorf("timeout", "negative timeout %v", desc.Timeout)
	}

	switch policy.Strategy {
	case StrategyAuto, StrategyLocal, StrategyRemote:
	default:
		return nil, liftErrorf("policy", "unknown execution strategy %q", policy.Strategy)
	}
	if policy.Platform == "" {
		policy.Platform = "local"
	}

	return &Request{
		Argv:        append([]string(nil), desc.Argv...),
		Env:         env,
		WorkingDir:  desc.WorkingDir,
		InputRoot:   inputRoot,
		OutputPaths: outputs,
		Timeout:     desc.Timeout,
		Policy:      policy,
	}, nil
}

func liftInputRoot(hash string, size int64) (Digest, error) {
	if hash == "" && size == 0 {
		return EmptyDigest, nil
	}
	if hash == "" {
		return Digest{}, liftErrorf("input_root", "missing input digest hash for size %d", size)
	}
	if err := validateHash(hash); err != nil {
		return Digest{}, liftErrorf("input_root", "%v", err)
	}
	if size < 0 {
		return Digest{}, liftErrorf("input_root", "negative input size %d", size)
	}
	return Digest{Hash: hash, Size: size}, nil
}

// Fingerprint computes a stable identity over every field of the request.
// All components are length-prefixed so adjacent fields cannot collide.
func (r *Request) Fingerprint() Fingerprint {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}

	for _, arg := range r.Argv {
		writeField("argv:" + arg)
	}
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField("env:" + k + "=" + r.Env[k])
	}
	writeField("cwd:" + r.WorkingDir)
	writeField("input:" + r.InputRoot.String())
	for _, p := range r.OutputPaths {
		writeField("output:" + p)
	}
	writeField("timeout:" + r.Timeout.String())
	writeField("platform:" + r.Policy.Platform)
	writeField("strategy:" + string(r.Policy.Strategy))
	writeField(fmt.Sprintf("cache:%t/%t", r.Policy.CacheRead, r.Policy.CacheWrite))

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
