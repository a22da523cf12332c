package cost

// Rates holds external-spend pricing: per-solve prices for each challenge
// type and the residential proxy's bandwidth rate.
type Rates struct {
	Solves     map[string]float64 `yaml:"solves" mapstructure:"solves"`
	ProxyPerGB float64            `yaml:"proxy_per_gb" mapstructure:"proxy_per_gb"`
}

// Calculator computes spend on the solving service and proxy bandwidth.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Solve returns the price of one solved challenge of the given type.
// Unknown types price at zero, matching how the service invoices them.
func (c *Calculator) Solve(challengeType string) float64 {
	return c.rates.Solves[challengeType]
}

// ProxyGB returns the cost of gb gigabytes of residential proxy traffic.
func (c *Calculator) ProxyGB(gb float64) float64 {
	if gb <= 0 {
		return 0
	}
	return gb * c.rates.ProxyPerGB
}

// DefaultRates returns the solving service's list prices. Behavioral solves
// cost an order of magnitude more because the service drives a full browser
// through a residential proxy.
func DefaultRates() Rates {
	return Rates{
		Solves: map[string]float64{
			"checkbox_v2":       0.003,
			"slider_v3":         0.004,
			"slider_v4":         0.005,
			"behavioral_slider": 0.012,
		},
		ProxyPerGB: 8.50,
	}
}
