package entity

type ProviderName string

const (
	ProviderStripe ProviderName = "stripe"
	ProviderPayPal ProviderName = "paypal"
)

func ParseProviderName(raw string) (ProviderName, bool) {
	switch ProviderName(raw) {
	case ProviderStripe:
		return ProviderStripe, true
	case ProviderPayPal:
		return ProviderPayPal, true
	}
	return "", false
}

func (p ProviderName) String() string {
	return string(p)
}
