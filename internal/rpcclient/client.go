// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package rpcclient implements objectprovider.FullNodeClient, the
// last-resort remote read objectprovider falls back to for GetExact, as a
// JSON-RPC client in the same minimal dial-and-call shape the teacher uses
// for its own JSON-RPC surfaces.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/ierrors"
)

// Client calls a full node's object-read JSON-RPC method. It holds no
// connection state beyond an *http.Client; concurrent use is safe.
type Client struct {
	endpoint string
	http     *http.Client
}

func New(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, http: httpClient}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result *objectEnvelope `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// objectEnvelope is the wire shape of one object as returned by the full
// node's getObject method; it mirrors checkpoint.Object's fields in their
// JSON form rather than reusing BCS.
type objectEnvelope struct {
	ID                  string `json:"objectId"`
	Version             uint64 `json:"version"`
	Digest              string `json:"digest"`
	TypeTag             string `json:"type"`
	HasPublicTransfer   bool   `json:"hasPublicTransfer"`
	ContentsBCS         string `json:"bcsBytes"`
	OwnerAddress        string `json:"ownerAddress"`
	PreviousTransaction string `json:"previousTransaction"`
	StorageRebate       uint64 `json:"storageRebate"`
}

// GetObject implements objectprovider.FullNodeClient. The bool return
// distinguishes the full node affirmatively reporting the object does not
// exist at that version (false, nil error) from a transport or protocol
// failure (zero value, true is meaningless, non-nil error) — the same split
// ObjectStore's reads use, so objectprovider.GetExact can classify the two
// cases differently (spec line 185: NotFound is fatal, a network failure is
// the transient FullNodeReading).
func (c *Client) GetObject(ctx context.Context, id checkpoint.ObjectID, version checkpoint.SequenceNumber) (checkpoint.Object, bool, error) {
	// A fresh request id per call lets the full node's access logs and this
	// client's own logs be correlated for one specific retry attempt.
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "sui_tryGetPastObject",
		Params:  []interface{}{id.String(), version},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return checkpoint.Object{}, false, errors.WithStack(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return checkpoint.Object{}, false, errors.WithStack(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return checkpoint.Object{}, false, errors.WithStack(err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return checkpoint.Object{}, false, errors.WithStack(err)
	}
	if decoded.Error != nil {
		return checkpoint.Object{}, false, errors.Errorf("rpc: %s (code %d)", decoded.Error.Message, decoded.Error.Code)
	}
	if decoded.Result == nil {
		return checkpoint.Object{}, false, nil
	}
	obj, err := decodeObject(decoded.Result)
	if err != nil {
		return checkpoint.Object{}, false, err
	}
	return obj, true, nil
}

func decodeObject(env *objectEnvelope) (checkpoint.Object, error) {
	id, err := parseHexID(env.ID)
	if err != nil {
		return checkpoint.Object{}, err
	}
	digest, err := parseHexDigest(env.Digest)
	if err != nil {
		return checkpoint.Object{}, err
	}
	owner, err := parseHexID(env.OwnerAddress)
	if err != nil {
		return checkpoint.Object{}, err
	}
	prevTx, err := parseHexDigest(env.PreviousTransaction)
	if err != nil {
		return checkpoint.Object{}, err
	}
	contents, err := decodeHex(env.ContentsBCS)
	if err != nil {
		return checkpoint.Object{}, err
	}

	return checkpoint.Object{
		ID:      id,
		Version: env.Version,
		Digest:  digest,
		Owner:   checkpoint.AddressOwner(checkpoint.Address(owner)),
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{
				TypeTag:           env.TypeTag,
				HasPublicTransfer: env.HasPublicTransfer,
				Contents:          contents,
			},
		},
		PreviousTransaction: prevTx,
		StorageRebate:       env.StorageRebate,
	}, nil
}

func parseHexID(s string) (checkpoint.ObjectID, error) {
	var id checkpoint.ObjectID
	b, err := decodeHex(s)
	if err != nil {
		return id, err
	}
	if len(b) > 32 {
		return id, ierrors.New(ierrors.DataTransformation, "rpc: object id %q decodes to %d bytes, want at most 32", s, len(b))
	}
	copy(id[32-len(b):], b)
	return id, nil
}

func parseHexDigest(s string) (checkpoint.Digest, error) {
	var d checkpoint.Digest
	b, err := decodeHex(s)
	if err != nil {
		return d, err
	}
	if len(b) > 32 {
		return d, ierrors.New(ierrors.DataTransformation, "rpc: digest %q decodes to %d bytes, want at most 32", s, len(b))
	}
	copy(d[32-len(b):], b)
	return d, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		return nil, errors.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errors.Errorf("invalid hex digit %q", c)
	}
}
