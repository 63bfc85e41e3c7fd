//go:build darwin

package secrets

import (
	"errors"

	"github.com/keybase/go-keychain"
)

func init() {
	store = &KeychainStore{}
}

// KeychainStore implements SecretStore on top of the macOS Keychain.
type KeychainStore struct{}

func (k *KeychainStore) Get(service, account string) (string, error) {
	query := keychain.NewItem()
	query.SetSecClass(keychain.SecClassGenericPassword)
	query.SetService(service)
	query.SetAccount(account)
	query.SetMatchLimit(keychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := keychain.QueryItem(query)
	if err != nil {
		if errors.Is(err, keychain.ErrorItemNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if len(results) == 0 {
		return "", ErrNotFound
	}
	return string(results[0].Data), nil
}

func (k *KeychainStore) Set(service, account, secret string) error {
	// Replace any existing item; ErrNotFound from the delete is fine.
	_ = k.Delete(service, account)

	item := keychain.NewItem()
	item.SetSecClass(keychain.SecClassGenericPassword)
	item.SetService(service)
	item.SetAccount(account)
	item.SetLabel(service + " - " + account)
	item.SetData([]byte(secret))
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlocked)

	err := keychain.AddItem(item)
	if errors.Is(err, keychain.ErrorDuplicateItem) {
		query := keychain.NewItem()
		query.SetSecClass(keychain.SecClassGenericPassword)
		query.SetService(service)
		query.SetAccount(account)

		update := keychain.NewItem()
		update.SetData([]byte(secret))
		return keychain.UpdateItem(query, update)
	}
	return err
}

func (k *KeychainStore) Delete(service, account string) error {
	item := keychain.NewItem()
	item.SetSecClass(keychain.SecClassGenericPassword)
	item.SetService(service)
	item.SetAccount(account)

	err := keychain.DeleteItem(item)
	if errors.Is(err, keychain.ErrorItemNotFound) {
		return ErrNotFound
	}
	return err
}

func (k *KeychainStore) IsSupported() bool {
	return true
}
