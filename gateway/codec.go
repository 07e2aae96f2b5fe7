package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"strapt/core/state"
	"strapt/native/claimcode"
	"strapt/native/drop"
	"strapt/native/fees"
	"strapt/native/registry"
	"strapt/native/stream"
	"strapt/native/transfer"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeEngineError maps engine sentinel errors onto HTTP statuses following
// the error taxonomy: validation 400, authorization 403, temporal and
// state-conflict 409, missing records 404.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transfer.ErrNotFound),
		errors.Is(err, stream.ErrNotFound),
		errors.Is(err, drop.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, transfer.ErrNotTransferSender),
		errors.Is(err, transfer.ErrNotIntendedRecipient),
		errors.Is(err, stream.ErrNotStreamSender),
		errors.Is(err, stream.ErrNotStreamRecipient),
		errors.Is(err, drop.ErrNotCreator),
		errors.Is(err, registry.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, transfer.ErrTransferExpired),
		errors.Is(err, transfer.ErrTransferNotExpired),
		errors.Is(err, transfer.ErrTransferNotClaimable),
		errors.Is(err, transfer.ErrTransferNotRefundable),
		errors.Is(err, stream.ErrStreamNotActive),
		errors.Is(err, stream.ErrStreamAlreadyActive),
		errors.Is(err, stream.ErrMilestoneAlreadyReleased),
		errors.Is(err, drop.ErrDropNotActive),
		errors.Is(err, drop.ErrDropExpired),
		errors.Is(err, drop.ErrAlreadyClaimed),
		errors.Is(err, drop.ErrNotExpiredYet):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, claimcode.ErrInvalidClaimCode):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, transfer.ErrInvalidAmount),
		errors.Is(err, transfer.ErrInvalidRecipient),
		errors.Is(err, transfer.ErrInvalidExpiry),
		errors.Is(err, stream.ErrInvalidAmount),
		errors.Is(err, stream.ErrInvalidRecipient),
		errors.Is(err, stream.ErrInvalidDuration),
		errors.Is(err, stream.ErrInvalidMilestonePercentage),
		errors.Is(err, stream.ErrMilestoneNotFound),
		errors.Is(err, drop.ErrInvalidAmount),
		errors.Is(err, drop.ErrInvalidRecipientCount),
		errors.Is(err, drop.ErrInvalidExpiry),
		errors.Is(err, registry.ErrTokenNotSupported),
		errors.Is(err, registry.ErrInvalidAddress),
		errors.Is(err, fees.ErrInvalidFee),
		errors.Is(err, state.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid identifier %q", value)
	}
	if len(raw) != 32 {
		return id, fmt.Errorf("identifier must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func parsePositiveAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func formatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
