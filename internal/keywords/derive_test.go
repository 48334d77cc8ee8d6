package keywords

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const plumberHTML = `<!doctype html>
<html><head><title>Acme Plumbing | Austin Plumbers</title></head>
<body>
<header><nav>
  <a href="/">Home</a>
  <a href="/services/drain-cleaning">Drain Cleaning</a>
  <a href="/services/water-heaters">Water Heater Repair</a>
  <a href="/about">About Us</a>
  <a href="/contact">Contact</a>
</nav></header>
<h1>Austin's trusted plumbers</h1>
<section class="services-grid">
  <h3>Drain Cleaning</h3>
  <h3>Water Heater Repair</h3>
  <h3>Leak Detection</h3>
</section>
<h2>Why choose us?</h2>
</body></html>`

func TestDeriveDetectsServices(t *testing.T) {
	t.Parallel()

	res := Derive(Input{
		Domain:       "acmeplumbing.com",
		LocationHint: "Austin, TX",
		CrawlOK:      true,
		HTML:         plumberHTML,
		MaxKeywords:  10,
	})

	require.False(t, res.Fallback)
	require.Empty(t, res.Warning)
	require.Equal(t, []string{"drain cleaning", "water heater repair", "leak detection"}, res.Services)
	require.Equal(t, []string{
		"drain cleaning austin", "drain cleaning",
		"water heater repair austin", "water heater repair",
		"leak detection austin", "leak detection",
	}, res.Keywords)
	require.Equal(t, "Water Heater Repair", DisplayName(res.Services[1]))
}

func TestDeriveCapsKeywords(t *testing.T) {
	t.Parallel()

	res := Derive(Input{Domain: "acmeplumbing.com", LocationHint: "Austin", CrawlOK: true, HTML: plumberHTML, MaxKeywords: 3})
	require.Len(t, res.Keywords, 3)
}

func TestDeriveFallsBackWithoutServices(t *testing.T) {
	t.Parallel()

	res := Derive(Input{
		Domain:       "www.blue-sky-dental.co.uk",
		LocationHint: "Leeds, UK",
		CrawlOK:      true,
		HTML:         `<html><body><h1>Welcome</h1><nav><a href="/">Home</a></nav></body></html>`,
		Title:        "Blue Sky Dental | Family Dentist in Leeds",
		MaxKeywords:  10,
	})

	require.True(t, res.Fallback)
	require.Equal(t, WarningNoServices, res.Warning)
	require.NotNil(t, res.Services)
	require.Empty(t, res.Services)
	require.Contains(t, res.Keywords, "family dentist in leeds")
	require.Contains(t, res.Keywords, "blue sky dental leeds")
	require.Contains(t, res.Keywords, "businesses near leeds")
}

func TestDeriveCrawlFailedUsesDomain(t *testing.T) {
	t.Parallel()

	res := Derive(Input{Domain: "northwind.io", CrawlOK: false, MaxKeywords: 5})
	require.True(t, res.Fallback)
	require.Equal(t, WarningCrawlFailed, res.Warning)
	require.Equal(t, []string{"northwind"}, res.Keywords)
}

func TestBrandName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme plumbing", brandName("www.acme-plumbing.co.uk"))
	require.Equal(t, "example", brandName("example.com"))
	require.Equal(t, "co", brandName("co.uk"))
}

func TestDeriveSuffixOnlyDomainStillYieldsKeywords(t *testing.T) {
	t.Parallel()

	res := Derive(Input{Domain: "co.uk", CrawlOK: false, MaxKeywords: 5})
	require.True(t, res.Fallback)
	require.NotEmpty(t, res.Keywords)
	require.Equal(t, []string{"co"}, res.Keywords)
}
