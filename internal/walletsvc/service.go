package walletsvc

import "dexchaind/internal/protocol"

// Service wraps wallet operations the way the teacher's
// walletserver/services.WalletService wraps core wallet calls for its HTTP
// controller — kept here as the same thin façade, minus the HTTP layer,
// since cmd/dexchaind only needs this for local transaction construction
// (genesis setup, witness self-signing), not a standalone wallet server.
type Service struct{}

// NewService returns a Service.
func NewService() *Service { return &Service{} }

// CreateWallet generates a fresh wallet and its recovery mnemonic.
func (s *Service) CreateWallet(entropyBits int) (*HDWallet, string, error) {
	return NewRandomWallet(entropyBits)
}

// ImportWallet reconstructs a wallet from an existing mnemonic.
func (s *Service) ImportWallet(mnemonic, passphrase string) (*HDWallet, error) {
	return WalletFromMnemonic(mnemonic, passphrase)
}

// DeriveAddress derives the address at (account, index) under w.
func (s *Service) DeriveAddress(w *HDWallet, account, index uint32) (protocol.Address, error) {
	return w.NewAddress(account, index)
}

// SignTransaction signs trx in place with w's (account, index) key.
func (s *Service) SignTransaction(w *HDWallet, trx *protocol.Transaction, account, index uint32) error {
	return w.SignTransaction(trx, account, index)
}
