// Package fingerprint tracks the running identity of a multisig group
// across a transaction's inputs, and the BIP-32 wallet path shared by
// those inputs, both used to decide whether an output may be treated as
// silent change.
package fingerprint

import (
	"bytes"
	"sort"

	"github.com/bkledger/hwsigner/bitcoin"
)

// Multisig describes one input or output's multisig descriptor: the set of
// public keys and the signature threshold. Ordering of Pubkeys does not
// matter for identity purposes — only the set and M.
type Multisig struct {
	Pubkeys [][]byte
	M       int
}

// Fingerprint is the running identity of the multisig group seen across a
// transaction's inputs. It starts empty and matching; any non-multisig
// input, or any multisig input whose descriptor differs from the first one
// seen, permanently marks it mismatched.
type Fingerprint struct {
	recorded [32]byte
	have     bool
	mismatch bool
}

// New returns an empty, matching fingerprint tracker.
func New() *Fingerprint { return &Fingerprint{} }

// Add folds one input's descriptor into the running fingerprint. Pass nil
// for a non-multisig input — this unconditionally sets mismatch, since a
// wallet-identified multisig change output can never be authorized once a
// differently-typed input has appeared.
func (f *Fingerprint) Add(ms *Multisig) {
	if f.mismatch {
		return
	}
	if ms == nil {
		f.mismatch = true
		return
	}

	h := hashMultisig(ms)
	if !f.have {
		f.recorded = h
		f.have = true
		return
	}
	if h != f.recorded {
		f.mismatch = true
	}
}

// Matches reports whether ms is the same multisig group recorded so far,
// and whether no mismatch has ever been observed. An empty tracker (no
// input added yet) never matches.
func (f *Fingerprint) Matches(ms *Multisig) bool {
	if f.mismatch || !f.have || ms == nil {
		return false
	}
	return hashMultisig(ms) == f.recorded
}

// Mismatch reports whether any divergent descriptor (or non-multisig
// input) has been observed.
func (f *Fingerprint) Mismatch() bool { return f.mismatch }

// hashMultisig hashes the sorted pubkey set plus the threshold, so ordering
// of the caller-supplied Pubkeys slice never affects identity.
func hashMultisig(ms *Multisig) [32]byte {
	sorted := make([][]byte, len(ms.Pubkeys))
	copy(sorted, ms.Pubkeys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	buf := &bytes.Buffer{}
	buf.WriteByte(byte(ms.M))
	for _, pk := range sorted {
		buf.Write(pk)
	}

	var out [32]byte
	copy(out[:], bitcoin.Sha256(buf.Bytes()))
	return out
}

// WalletPath tracks the longest common BIP-32 prefix of every input seen so
// far, excluding the trailing change-chain and address-index levels. It
// starts empty (no input seen), narrows monotonically as inputs arrive, and
// becomes permanently absent the moment two inputs' prefixes disagree.
type WalletPath struct {
	prefix []uint32
	have   bool
	absent bool
}

// NewWalletPath returns an empty tracker.
func NewWalletPath() *WalletPath { return &WalletPath{} }

// trailingLevels is the number of path elements (change-chain, address-
// index) excluded from the wallet path comparison.
const trailingLevels = 2

// Add folds one input's full BIP-32 path into the tracker. A path too
// short to carry a prefix beyond the trailing levels disables tracking for
// the whole session, even on the first input: an empty prefix would
// otherwise match any two-element output path.
func (w *WalletPath) Add(path []uint32) {
	if w.absent {
		return
	}

	cut := len(path) - trailingLevels
	if cut <= 0 {
		w.absent = true
		w.prefix = nil
		return
	}
	candidate := path[:cut]

	if !w.have {
		w.prefix = append([]uint32(nil), candidate...)
		w.have = true
		return
	}

	if !equalPaths(w.prefix, candidate) {
		w.absent = true
		w.prefix = nil
	}
}

// Matches reports whether path shares the tracked prefix and has exactly
// two trailing levels within the change-chain/address-index bounds required
// for silent change: chain <= maxChain, index <= maxIndex.
func (w *WalletPath) Matches(path []uint32, maxChain, maxIndex uint32) bool {
	if w.absent || !w.have {
		return false
	}
	if len(path) != len(w.prefix)+trailingLevels {
		return false
	}
	if !equalPaths(w.prefix, path[:len(w.prefix)]) {
		return false
	}

	chain := path[len(path)-2]
	index := path[len(path)-1]
	return chain <= maxChain && index <= maxIndex
}

// SharesPrefix reports whether path still carries the tracked prefix,
// ignoring the two trailing levels. Used during the second signing pass:
// when the path already diverged across inputs the check is vacuous and
// always passes, matching how divergence was tolerated (with explicit
// confirmation) the first time around.
func (w *WalletPath) SharesPrefix(path []uint32) bool {
	if w.absent || !w.have {
		return true
	}
	cut := len(path) - trailingLevels
	if cut < 0 {
		cut = 0
	}
	return equalPaths(w.prefix, path[:cut])
}

// Absent reports whether the wallet path has diverged across inputs.
func (w *WalletPath) Absent() bool { return w.absent }

func equalPaths(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
