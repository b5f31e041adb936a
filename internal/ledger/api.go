package ledger

import "context"

// API decodes gateway results into typed values so callers never look at raw
// response bodies.
type API struct {
	gateway Gateway
}

func NewAPI(gateway Gateway) *API {
	return &API{gateway: gateway}
}

func (a *API) CreateProfile(ctx context.Context, creds Credentials) (*Profile, error) {
	var out Profile
	if err := a.gateway.Call(ctx, EndpointCreateProfile, creds).decode(EndpointCreateProfile, &out); err != nil {
		return nil, err
	}
	if out.Genesis == "" {
		return nil, missing(EndpointCreateProfile, "genesis")
	}
	return &out, nil
}

func (a *API) CreateSession(ctx context.Context, creds Credentials) (*Session, error) {
	var out Session
	if err := a.gateway.Call(ctx, EndpointCreateSession, creds).decode(EndpointCreateSession, &out); err != nil {
		return nil, err
	}
	if out.Session == "" {
		return nil, missing(EndpointCreateSession, "session")
	}
	return &out, nil
}

func (a *API) UnlockSession(ctx context.Context, session, pin string) error {
	var out UnlockResult
	req := UnlockRequest{Session: session, PIN: pin, Transactions: true}
	return a.gateway.Call(ctx, EndpointUnlockSession, req).decode(EndpointUnlockSession, &out)
}

func (a *API) CreateAsset(ctx context.Context, req CreateAssetRequest) (*CreateAssetResult, error) {
	var out CreateAssetResult
	if err := a.gateway.Call(ctx, EndpointCreateAsset, req).decode(EndpointCreateAsset, &out); err != nil {
		return nil, err
	}
	if out.Address == "" {
		return nil, missing(EndpointCreateAsset, "address")
	}
	return &out, nil
}

func (a *API) TransferAsset(ctx context.Context, req TransferAssetRequest) (*TransferAssetResult, error) {
	var out TransferAssetResult
	if err := a.gateway.Call(ctx, EndpointTransferAsset, req).decode(EndpointTransferAsset, &out); err != nil {
		return nil, err
	}
	if out.TxID == "" {
		return nil, missing(EndpointTransferAsset, "txid")
	}
	return &out, nil
}

func (a *API) GetAsset(ctx context.Context, req GetAssetRequest) (*AssetRecord, error) {
	var out AssetRecord
	if err := a.gateway.Call(ctx, EndpointGetAsset, req).decode(EndpointGetAsset, &out); err != nil {
		return nil, err
	}
	if out.Owner == "" {
		return nil, missing(EndpointGetAsset, "owner")
	}
	return &out, nil
}

func (a *API) GetAccount(ctx context.Context, session, name string) (*Account, error) {
	var out Account
	req := GetAccountRequest{Session: session, Name: name}
	if err := a.gateway.Call(ctx, EndpointGetAccount, req).decode(EndpointGetAccount, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func missing(endpoint Endpoint, field string) error {
	return &Error{Endpoint: endpoint, Kind: KindInvalidResponse, Message: "result missing " + field}
}
