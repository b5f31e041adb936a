package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Gateway. It keeps enough ledger state to serve the
// endpoints the engines use and can be scripted to fail specific calls.
type Fake struct {
	mu       sync.Mutex
	seq      int
	profiles map[string]*fakeProfile // by username
	sessions map[string]string       // session -> genesis
	unlocked map[string]bool
	assets   map[string]*fakeAsset // by address
	names    map[string]string     // asset name -> address
	accounts map[string]Account    // by genesis
	scripted map[Endpoint][]Result
	calls    map[Endpoint][]json.RawMessage
}

type fakeProfile struct {
	username string
	password string
	pin      string
	genesis  string
}

type fakeAsset struct {
	address string
	name    string
	owner   string
	created int64
	fields  []Field
}

func NewFake() *Fake {
	return &Fake{
		profiles: make(map[string]*fakeProfile),
		sessions: make(map[string]string),
		unlocked: make(map[string]bool),
		assets:   make(map[string]*fakeAsset),
		names:    make(map[string]string),
		accounts: make(map[string]Account),
		scripted: make(map[Endpoint][]Result),
		calls:    make(map[Endpoint][]json.RawMessage),
	}
}

// NewFakeWithProfiles returns a Fake that already holds the given profiles.
func NewFakeWithProfiles(ctx context.Context, profiles ...Credentials) (*Fake, error) {
	f := NewFake()
	api := NewAPI(f)
	for _, creds := range profiles {
		if _, err := api.CreateProfile(ctx, creds); err != nil {
			return nil, fmt.Errorf("failed to seed profile %s: %w", creds.Username, err)
		}
	}
	return f, nil
}

// Script queues results returned, in order, by the next calls to endpoint
// before the fake falls back to its normal behaviour.
func (f *Fake) Script(endpoint Endpoint, results ...Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[endpoint] = append(f.scripted[endpoint], results...)
}

// Calls returns the JSON payloads received for endpoint.
func (f *Fake) Calls(endpoint Endpoint) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]json.RawMessage, len(f.calls[endpoint]))
	copy(out, f.calls[endpoint])
	return out
}

// SetBalance sets the account balance reported for a genesis.
func (f *Fake) SetBalance(genesis string, account Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[genesis] = account
}

// SetOwner reassigns an asset outside the normal transfer flow, as another
// node would.
func (f *Fake) SetOwner(address, genesis string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if asset, ok := f.assets[address]; ok {
		asset.owner = genesis
	}
}

// Genesis returns the genesis registered for username.
func (f *Fake) Genesis(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[username]; ok {
		return p.genesis
	}
	return ""
}

func (f *Fake) Call(ctx context.Context, endpoint Endpoint, payload interface{}) Result {
	start := time.Now()
	result := f.call(ctx, endpoint, payload)
	logCall(endpoint, payload, result, time.Since(start))
	return result
}

func (f *Fake) call(ctx context.Context, endpoint Endpoint, payload interface{}) Result {
	if err := ctx.Err(); err != nil {
		return Failure(KindNetworkUnreachable, err.Error())
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Failure(KindInvalidResponse, err.Error())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[endpoint] = append(f.calls[endpoint], raw)

	if queue := f.scripted[endpoint]; len(queue) > 0 {
		f.scripted[endpoint] = queue[1:]
		return queue[0]
	}

	switch endpoint {
	case EndpointCreateProfile:
		return f.createProfile(raw)
	case EndpointCreateSession:
		return f.createSession(raw)
	case EndpointUnlockSession:
		return f.unlockSession(raw)
	case EndpointCreateAsset:
		return f.createAsset(raw)
	case EndpointTransferAsset:
		return f.transferAsset(raw)
	case EndpointGetAsset:
		return f.getAsset(raw)
	case EndpointGetAccount:
		return f.getAccount(raw)
	default:
		return Failure(KindRemoteRejected, fmt.Sprintf("unknown endpoint %s", endpoint))
	}
}

func (f *Fake) createProfile(raw []byte) Result {
	var req Credentials
	if err := json.Unmarshal(raw, &req); err != nil {
		return Failure(KindRemoteRejected, err.Error())
	}
	if req.Username == "" || req.Password == "" || req.PIN == "" {
		return Failure(KindRemoteRejected, "missing username, password or pin")
	}
	if _, exists := f.profiles[req.Username]; exists {
		return Failure(KindRemoteRejected, "profile already exists")
	}
	p := &fakeProfile{username: req.Username, password: req.Password, pin: req.PIN, genesis: f.hash("genesis")}
	f.profiles[req.Username] = p
	return f.success(Profile{Genesis: p.genesis, TxID: f.hash("tx")})
}

func (f *Fake) createSession(raw []byte) Result {
	var req Credentials
	if err := json.Unmarshal(raw, &req); err != nil {
		return Failure(KindRemoteRejected, err.Error())
	}
	p, ok := f.profiles[req.Username]
	if !ok || p.password != req.Password || p.pin != req.PIN {
		return Failure(KindRemoteRejected, "invalid credentials")
	}
	session := f.hash("session")
	f.sessions[session] = p.genesis
	return f.success(Session{Session: session, Genesis: p.genesis})
}

func (f *Fake) unlockSession(raw []byte) Result {
	var req UnlockRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Failure(KindRemoteRejected, err.Error())
	}
	if _, ok := f.sessions[req.Session]; !ok {
		return Failure(KindRemoteRejected, "session not found")
	}
	f.unlocked[req.Session] = true
	return f.success(UnlockResult{Unlocked: true})
}

func (f *Fake) createAsset(raw []byte) Result {
	var req CreateAssetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Failure(KindRemoteRejected, err.Error())
	}
	owner, ok := f.sessions[req.Session]
	if !ok {
		return Failure(KindRemoteRejected, "session not found")
	}
	for _, field := range req.JSON {
		if field.Value == "" {
			return Failure(KindRemoteRejected, fmt.Sprintf("field %s has empty value", field.Name))
		}
	}
	if req.Name != "" {
		if _, taken := f.names[req.Name]; taken {
			return Failure(KindRemoteRejected, "name already exists")
		}
	}

	asset := &fakeAsset{
		address: f.hash("asset"),
		name:    req.Name,
		owner:   owner,
		created: time.Now().Unix(),
		fields:  req.JSON,
	}
	f.assets[asset.address] = asset
	if asset.name != "" {
		f.names[asset.name] = asset.address
	}
	return f.success(CreateAssetResult{Address: asset.address, TxID: f.hash("tx")})
}

func (f *Fake) transferAsset(raw []byte) Result {
	var req TransferAssetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Failure(KindRemoteRejected, err.Error())
	}
	caller, ok := f.sessions[req.Session]
	if !ok {
		return Failure(KindRemoteRejected, "session not found")
	}
	asset, ok := f.assets[req.Address]
	if !ok {
		return Failure(KindRemoteRejected, "object not found")
	}
	if asset.owner != caller {
		return Failure(KindRemoteRejected, "caller does not own asset")
	}
	recipient := req.Recipient
	if p, ok := f.profiles[req.Recipient]; ok {
		recipient = p.genesis
	} else if !f.knownGenesis(recipient) {
		return Failure(KindRemoteRejected, "recipient not found")
	}
	asset.owner = recipient
	return f.success(TransferAssetResult{TxID: f.hash("tx"), Recipient: recipient})
}

func (f *Fake) getAsset(raw []byte) Result {
	var req GetAssetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Failure(KindRemoteRejected, err.Error())
	}
	address := req.Address
	if address == "" {
		address = f.names[req.Name]
	}
	asset, ok := f.assets[address]
	if !ok {
		return Failure(KindRemoteRejected, "object not found")
	}
	return f.success(AssetRecord{Address: asset.address, Name: asset.name, Owner: asset.owner, Created: asset.created})
}

func (f *Fake) getAccount(raw []byte) Result {
	var req GetAccountRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Failure(KindRemoteRejected, err.Error())
	}
	genesis, ok := f.sessions[req.Session]
	if !ok {
		return Failure(KindRemoteRejected, "session not found")
	}
	return f.success(f.accounts[genesis])
}

func (f *Fake) knownGenesis(genesis string) bool {
	for _, p := range f.profiles {
		if p.genesis == genesis {
			return true
		}
	}
	return false
}

func (f *Fake) hash(kind string) string {
	f.seq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%d", kind, f.seq, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:])
}

func (f *Fake) success(v interface{}) Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return Failure(KindInvalidResponse, err.Error())
	}
	return Success(raw)
}
