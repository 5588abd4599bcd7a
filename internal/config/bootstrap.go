package config

import (
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/storage"
)

// Bootstrap seeds the currency, instrument, and broker catalogues into a
// fresh Storage, idempotently (CreateCurrency/CreateInstrument upsert;
// CreateBroker is skipped if the broker id already exists).
func Bootstrap(db *storage.Storage) error {
	q := db.DB()

	for _, c := range Currencies {
		if err := db.CreateCurrency(q, &storage.Currency{
			Code: c.Code, Sign: c.Sign, Description: c.Description,
			IsCrypto: c.IsCrypto, Pip: c.Pip, FormatPrecision: c.FormatPrecision,
		}); err != nil {
			return fmt.Errorf("config: failed to seed currency %s: %w", c.Code, err)
		}
	}

	for _, i := range Instruments {
		if err := db.CreateInstrument(q, &storage.Instrument{
			Symbol: i.Symbol, QuoteCurrency: i.QuoteCurrency, Description: i.Description,
		}); err != nil {
			return fmt.Errorf("config: failed to seed instrument %s: %w", i.Symbol, err)
		}
	}

	for _, b := range DefaultBrokers {
		if _, err := db.GetBroker(q, b.ID); err == nil {
			continue
		}
		tiers, err := json.Marshal(b.CryptoConfirmations)
		if err != nil {
			return fmt.Errorf("config: failed to encode broker %s confirmations: %w", b.ShortName, err)
		}
		if err := db.CreateBroker(q, &storage.Broker{
			ID: b.ID, ShortName: b.ShortName, Status: "1", IsBrokerHub: true,
			TransactionFeeBuy: b.TransactionFeeBuy, TransactionFeeSell: b.TransactionFeeSell,
			CryptoCurrencies: string(tiers), VerificationBonus: b.VerificationBonus,
		}); err != nil {
			return fmt.Errorf("config: failed to seed broker %s: %w", b.ShortName, err)
		}
	}

	return nil
}
