package hashmap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evbattery/batterybase/battery-base/address"
	"github.com/evbattery/batterybase/battery-base/storageutil"
)

// Map is a salted hash -> hash mapping stored in the battery index account.
type Map struct {
	db   storageutil.StateAccess
	salt []byte
}

func NewMap(db storageutil.StateAccess, salts ...[]byte) *Map {
	combinedSalt := []byte{}
	for _, s := range salts {
		combinedSalt = append(combinedSalt, s...)
	}
	return &Map{db: db, salt: combinedSalt}
}

func (m *Map) slot(key common.Hash) common.Hash {
	return crypto.Keccak256Hash(m.salt, key.Bytes())
}

func (m *Map) Get(key common.Hash) common.Hash {
	return m.db.GetState(address.BatteryIndexAddress, m.slot(key))
}

func (m *Map) Set(key common.Hash, value common.Hash) {
	m.db.SetState(address.BatteryIndexAddress, m.slot(key), value)
}
