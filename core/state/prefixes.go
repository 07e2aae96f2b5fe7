package state

var (
	accountPrefix        = []byte("strapt/account/")
	paramsKeyBytes       = []byte("strapt/params")
	creatorNoncePrefix   = []byte("strapt/nonce/")
	vaultSeedPrefix      = []byte("strapt/vault/")
	transferRecordPrefix = []byte("strapt/transfer/record/")
	recipientIndexPrefix = []byte("strapt/transfer/recipient/")
	streamRecordPrefix   = []byte("strapt/stream/record/")
	dropRecordPrefix     = []byte("strapt/drop/record/")
	dropClaimPrefix      = []byte("strapt/drop/claim/")
)
