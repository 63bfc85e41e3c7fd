package secrets

// NoopStore is the SecretStore used on platforms without a system keychain.
// Every operation returns ErrNotSupported and IsSupported reports false.
type NoopStore struct{}

func (n *NoopStore) Get(service, account string) (string, error) {
	return "", ErrNotSupported
}

func (n *NoopStore) Set(service, account, secret string) error {
	return ErrNotSupported
}

func (n *NoopStore) Delete(service, account string) error {
	return ErrNotSupported
}

func (n *NoopStore) IsSupported() bool {
	return false
}
