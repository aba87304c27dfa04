// Package settings хранит настройки платформы и формы заказа поверх значений по умолчанию.
package settings

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/essaymarket/internal/pricing"
)

// Ключи, под которыми настройки хранятся в базе.
const (
	KeyPlatformName             = "platformName"
	KeySupportEmail             = "supportEmail"
	KeyCurrency                 = "currency"
	KeyBasePricePerPage         = "basePricePerPage"
	KeyUrgentDeliveryMultiplier = "urgentDeliveryMultiplier"
	KeyUrgent12HoursMultiplier  = "urgent12HoursMultiplier"
	KeyUrgent24HoursMultiplier  = "urgent24HoursMultiplier"
	KeyUrgent48HoursMultiplier  = "urgent48HoursMultiplier"
	KeyMinimumHours             = "minimumHours"
	KeyStandardDeliveryDays     = "standardDeliveryDays"
	KeyMaintenanceMode          = "maintenanceMode"
	KeyOrderForm                = "orderFormSettings"
	KeyWallet                   = "wallet_settings"
)

// OrderFormSettings управляет тем, какие необязательные поля показывает форма заказа.
type OrderFormSettings struct {
	ShowTopicField    bool     `json:"showTopicField"`
	ShowCitationStyle bool     `json:"showCitationStyle"`
	ShowSourcesField  bool     `json:"showSourcesField"`
	ShowFileUpload    bool     `json:"showFileUpload"`
	PaperTypes        []string `json:"paperTypes"`
	CitationStyles    []string `json:"citationStyles"`
	MaxPages          int      `json:"maxPages"`
}

// WalletSettings ограничивает суммы пополнения и вывода.
type WalletSettings struct {
	MinimumDeposit    float64 `json:"minimumDeposit"`
	MinimumWithdrawal float64 `json:"minimumWithdrawal"`
	MaximumWithdrawal float64 `json:"maximumWithdrawal"`
}

// Settings - единый объект настроек платформы.
type Settings struct {
	PlatformName             string            `json:"platformName"`
	SupportEmail             string            `json:"supportEmail"`
	Currency                 string            `json:"currency"`
	BasePricePerPage         float64           `json:"basePricePerPage"`
	UrgentDeliveryMultiplier float64           `json:"urgentDeliveryMultiplier"`
	Urgent12HoursMultiplier  float64           `json:"urgent12HoursMultiplier"`
	Urgent24HoursMultiplier  float64           `json:"urgent24HoursMultiplier"`
	Urgent48HoursMultiplier  float64           `json:"urgent48HoursMultiplier"`
	MinimumHours             int               `json:"minimumHours"`
	StandardDeliveryDays     int               `json:"standardDeliveryDays"`
	MaintenanceMode          bool              `json:"maintenanceMode"`
	OrderForm                OrderFormSettings `json:"orderFormSettings"`
	Wallet                   WalletSettings    `json:"wallet_settings"`
}

// Defaults возвращает настройки, действующие до первой записи в базу.
func Defaults() Settings {
	return Settings{
		PlatformName:             "EssayMarket",
		SupportEmail:             "support@essaymarket.com",
		Currency:                 "USD",
		BasePricePerPage:         15.99,
		UrgentDeliveryMultiplier: 2.0,
		Urgent12HoursMultiplier:  1.8,
		Urgent24HoursMultiplier:  1.5,
		Urgent48HoursMultiplier:  1.3,
		MinimumHours:             6,
		StandardDeliveryDays:     7,
		OrderForm: OrderFormSettings{
			ShowTopicField:    true,
			ShowCitationStyle: true,
			ShowSourcesField:  true,
			ShowFileUpload:    true,
			PaperTypes: []string{
				"Essay", "Research Paper", "Term Paper", "Case Study",
				"Dissertation", "Thesis", "Lab Report", "Book Review",
			},
			CitationStyles: []string{"APA", "MLA", "Chicago", "Harvard", "IEEE"},
			MaxPages:       200,
		},
		Wallet: WalletSettings{
			MinimumDeposit:    5,
			MinimumWithdrawal: 10,
			MaximumWithdrawal: 5000,
		},
	}
}

// Rates возвращает тарифы для калькулятора стоимости.
func (s Settings) Rates() pricing.Rates {
	return pricing.Rates{
		BasePricePerPage:         decimal.NewFromFloat(s.BasePricePerPage),
		UrgentDeliveryMultiplier: decimal.NewFromFloat(s.UrgentDeliveryMultiplier),
		Urgent12HoursMultiplier:  decimal.NewFromFloat(s.Urgent12HoursMultiplier),
		Urgent24HoursMultiplier:  decimal.NewFromFloat(s.Urgent24HoursMultiplier),
		Urgent48HoursMultiplier:  decimal.NewFromFloat(s.Urgent48HoursMultiplier),
		MinimumHours:             s.MinimumHours,
		StandardDeliveryDays:     s.StandardDeliveryDays,
	}
}
