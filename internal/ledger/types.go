package ledger

// Field is one entry of an asset's JSON field list. Value must never be the
// empty string; the ledger rejects such assets.
type Field struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Mutable bool   `json:"mutable"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PIN      string `json:"pin"`
}

type Profile struct {
	Genesis string `json:"genesis"`
	TxID    string `json:"txid"`
}

type Session struct {
	Session string `json:"session"`
	Genesis string `json:"genesis"`
}

type UnlockRequest struct {
	Session      string `json:"session"`
	PIN          string `json:"pin"`
	Transactions bool   `json:"transactions"`
}

type UnlockResult struct {
	Unlocked bool `json:"unlocked"`
}

type CreateAssetRequest struct {
	Session string  `json:"session"`
	PIN     string  `json:"pin"`
	Name    string  `json:"name"`
	Format  string  `json:"format"`
	JSON    []Field `json:"json"`
}

type CreateAssetResult struct {
	Address string `json:"address"`
	TxID    string `json:"txid"`
}

type TransferAssetRequest struct {
	Session   string `json:"session"`
	PIN       string `json:"pin"`
	Address   string `json:"address"`
	Recipient string `json:"recipient"`
}

type TransferAssetResult struct {
	TxID      string `json:"txid"`
	Recipient string `json:"recipient"`
}

type GetAssetRequest struct {
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
}

// AssetRecord is the subset of an on-chain asset the engines rely on.
type AssetRecord struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Created int64  `json:"created"`
}

type GetAccountRequest struct {
	Session string `json:"session"`
	Name    string `json:"name"`
}

type Account struct {
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
}
