// Package journal keeps a local record of broadcast bridge attempts. It sits
// outside the pipeline and is fed through a bridge.Hook.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"evm-bridge/pkg/bridge"
	"evm-bridge/pkg/types"
)

const (
	DefaultStorageFileName = ".evm-bridge-history.json"
)

// Entry is one recorded attempt
type Entry struct {
	TxHash      string    `json:"tx_hash"`
	AttemptID   string    `json:"attempt_id"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`

	SourceChain string `json:"source_chain"`
	DestChain   string `json:"dest_chain"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Recipient   string `json:"recipient"`

	State      string `json:"state"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	DepositID  string `json:"deposit_id,omitempty"`
	Canonical  bool   `json:"canonical"`
	Reconciled bool   `json:"reconciled"`
	Settled    string `json:"settled_amount,omitempty"`
}

// journalFile is the JSON structure on disk
type journalFile struct {
	Entries map[string]*Entry `json:"entries"`
}

// Storage persists entries to a JSON file
type Storage struct {
	filePath string
	mu       sync.RWMutex
	entries  map[string]*Entry
	now      func() time.Time
	logger   *zap.Logger
}

// NewStorage opens or creates a journal. An empty path uses the home directory.
func NewStorage(filePath string, logger *zap.Logger) (*Storage, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStorageFileName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Storage{
		filePath: filePath,
		entries:  make(map[string]*Entry),
		now:      time.Now,
		logger:   logger,
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	return s, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var file journalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal journal: %w", err)
	}
	if file.Entries != nil {
		s.entries = file.Entries
	}
	return nil
}

// saveLocked writes the journal atomically. Callers hold the write lock.
func (s *Storage) saveLocked() error {
	data, err := json.MarshalIndent(journalFile{Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Record inserts or replaces the entry for its transaction hash
func (s *Storage) Record(entry *Entry) error {
	if entry.TxHash == "" {
		return fmt.Errorf("journal entry needs a transaction hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.entries[entry.TxHash]; ok {
		entry.Created = existing.Created
	} else if entry.Created.IsZero() {
		entry.Created = now
	}
	entry.LastUpdated = now
	s.entries[entry.TxHash] = entry

	return s.saveLocked()
}

// MarkReconciled upgrades an entry once its canonical identifier is known.
// A canonical identifier already on record is never replaced.
func (s *Storage) MarkReconciled(txHash string, id types.CanonicalID, settled string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[txHash]
	if !ok {
		return fmt.Errorf("transaction %s not found in journal", txHash)
	}
	if entry.Canonical {
		return nil
	}

	entry.DepositID = id.Hex()
	entry.Canonical = true
	entry.Reconciled = true
	entry.Settled = settled
	entry.State = string(bridge.StateSettled)
	entry.Success = true
	entry.Message = ""
	entry.LastUpdated = s.now()

	return s.saveLocked()
}

// MarkOutcome records a mined outcome found after the attempt ended, for an
// entry that was left unconfirmed. Only reverted and unreconciled are
// accepted; settled entries go through MarkReconciled and are never changed.
func (s *Storage) MarkOutcome(txHash string, state bridge.State, message string) error {
	var success bool
	switch state {
	case bridge.StateReverted:
	case bridge.StateUnreconciled:
		success = true
	default:
		return fmt.Errorf("cannot mark %s as %s", txHash, state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[txHash]
	if !ok {
		return fmt.Errorf("transaction %s not found in journal", txHash)
	}
	if entry.Canonical || entry.State == string(bridge.StateSettled) {
		return nil
	}
	if entry.State == string(state) && entry.Success == success && entry.Message == message {
		return nil
	}

	entry.State = string(state)
	entry.Success = success
	entry.Message = message
	entry.LastUpdated = s.now()

	return s.saveLocked()
}

// ApplyReceipt records the outcome of a receipt looked up after the attempt
// ended: a reconciled receipt upgrades the entry to its canonical id, anything
// else is marked reverted or unreconciled.
func (s *Storage) ApplyReceipt(txHash string, r types.SettlementReceipt) error {
	switch {
	case r.Reconciled:
		settled := ""
		if r.SettledAmount != nil {
			settled = r.SettledAmount.String()
		}
		return s.MarkReconciled(txHash, types.CanonicalID(r.DepositID.Bytes()), settled)
	case r.Status == types.TxReverted:
		return s.MarkOutcome(txHash, bridge.StateReverted,
			fmt.Sprintf("transaction %s reverted on-chain; no funds moved", txHash))
	default:
		return s.MarkOutcome(txHash, bridge.StateUnreconciled,
			fmt.Sprintf("transaction %s mined but the settlement event was not found", txHash))
	}
}

// Get retrieves an entry by transaction hash
func (s *Storage) Get(txHash string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[txHash]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found in journal", txHash)
	}
	return entry, nil
}

// List returns all entries, newest first
func (s *Storage) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Created.After(entries[j].Created)
	})
	return entries
}

// Count returns the number of entries
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetFilePath returns the journal file path
func (s *Storage) GetFilePath() string {
	return s.filePath
}

// AttemptFinished records a finished attempt. Journal failures are logged
// and never affect the attempt's result.
func (s *Storage) AttemptFinished(ctx context.Context, req types.BridgeRequest, res *bridge.Result) {
	entry := &Entry{
		TxHash:      res.TxHash.Hex(),
		AttemptID:   res.AttemptID,
		SourceChain: req.SourceChain,
		DestChain:   req.DestinationChain,
		Asset:       req.SourceAsset,
		Amount:      req.Amount,
		Recipient:   req.Recipient,
		State:       string(res.State),
		Success:     res.Success,
		Message:     res.Message,
		Reconciled:  res.Reconciled,
	}
	if res.DepositID != nil {
		entry.DepositID = res.DepositID.Hex()
		entry.Canonical = res.DepositID.IsCanonical()
	}
	if res.Receipt != nil && res.Receipt.SettledAmount != nil {
		entry.Settled = res.Receipt.SettledAmount.String()
	}

	if err := s.Record(entry); err != nil {
		s.logger.Warn("failed to record bridge attempt",
			zap.String("txHash", entry.TxHash),
			zap.Error(err))
	}
}

var _ bridge.Hook = (*Storage)(nil)
