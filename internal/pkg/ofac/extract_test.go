package ofac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTicker(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ethereum", normalizeTicker("ETH"))
	assert.Equal(t, "ethereum", normalizeTicker("erc20"))
	assert.Equal(t, "tron", normalizeTicker(" TRC20 "))
	assert.Equal(t, "tether", normalizeTicker("USDT"))
	assert.Equal(t, "bitcoin", normalizeTicker("XBT"))
	assert.Equal(t, "doge", normalizeTicker("DOGE"), "unknown tickers are lower-cased")
}

func TestDigitalCurrencyMarker(t *testing.T) {
	t.Parallel()

	m := digitalCurrencyMarker.FindStringSubmatch("Digital Currency Address - ETH")
	require.NotNil(t, m)
	assert.Equal(t, "ETH", m[1])

	// The published list has also used an en-dash.
	m = digitalCurrencyMarker.FindStringSubmatch("Digital Currency Address – USDT")
	require.NotNil(t, m)
	assert.Equal(t, "USDT", m[1])

	assert.Nil(t, digitalCurrencyMarker.FindStringSubmatch("Passport Number - 12345"))
}

const sdnSample = `<?xml version="1.0" encoding="UTF-8"?>
<sdnList>
  <publshInformation>
    <Publish_Date>01/15/2025</Publish_Date>
  </publshInformation>
  <sdnEntry uid="12345">
    <lastName>IVANOV</lastName>
    <firstName>Ivan</firstName>
    <sdnType>Individual</sdnType>
    <idList>
      <id>
        <idType>Digital Currency Address - ETH</idType>
        <idNumber>0x1234567890abcdef1234567890abcdef12345678</idNumber>
      </id>
      <id>
        <idType>Digital Currency Address - TRX</idType>
        <idNumber>TLa2f6VPqDgRE67v1736s7bJ8Ray5wYjU7</idNumber>
      </id>
      <id>
        <idType>Passport</idType>
        <idNumber>AB1234567</idNumber>
      </id>
    </idList>
  </sdnEntry>
  <sdnEntry uid="67890">
    <lastName>ACME TRADING LTD</lastName>
    <sdnType>Entity</sdnType>
    <idList>
      <id>
        <idType>Digital Currency Address - XBT</idType>
        <idNumber>1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa</idNumber>
      </id>
    </idList>
  </sdnEntry>
</sdnList>`

func TestXMLExtractor(t *testing.T) {
	t.Parallel()

	out, err := xmlExtractor{}.Extract([]byte(sdnSample))
	require.NoError(t, err)
	require.Len(t, out, 3)

	byAddr := make(map[string]ExtractedAddress, len(out))
	for _, a := range out {
		byAddr[a.Address] = a
	}

	eth, ok := byAddr["0x1234567890abcdef1234567890abcdef12345678"]
	require.True(t, ok)
	assert.Equal(t, "ethereum", eth.AddressType)
	assert.Equal(t, "Ivan IVANOV", eth.SDNName)
	assert.Equal(t, "12345", eth.SDNID)

	trx, ok := byAddr["TLa2f6VPqDgRE67v1736s7bJ8Ray5wYjU7"]
	require.True(t, ok)
	assert.Equal(t, "tron", trx.AddressType)

	btc, ok := byAddr["1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"]
	require.True(t, ok)
	assert.Equal(t, "bitcoin", btc.AddressType)
	assert.Equal(t, "ACME TRADING LTD", btc.SDNName)
	assert.Equal(t, "67890", btc.SDNID)
}

func TestXMLExtractor_MalformedDocument(t *testing.T) {
	t.Parallel()

	_, err := xmlExtractor{}.Extract([]byte("<sdnList><sdnEntry>"))
	assert.Error(t, err)
}

func TestRegexExtractor(t *testing.T) {
	t.Parallel()

	text := `SDN list fallback format
Digital Currency Address - ETH
0xabcdefabcdefabcdefabcdefabcdefabcdefabcd more text
Digital Currency Address - TRX; TLa2f6VPqDgRE67v1736s7bJ8Ray5wYjU7
unrelated line`

	out, err := regexExtractor{}.Extract([]byte(text))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", out[0].Address)
	assert.Equal(t, "ethereum", out[0].AddressType)
	assert.Equal(t, "UNKNOWN", out[0].SDNName)

	assert.Equal(t, "TLa2f6VPqDgRE67v1736s7bJ8Ray5wYjU7", out[1].Address)
	assert.Equal(t, "tron", out[1].AddressType)
}

func TestRegexExtractor_IgnoresAddressesBeforeMarker(t *testing.T) {
	t.Parallel()

	text := `0xabcdefabcdefabcdefabcdefabcdefabcdefabcd
Digital Currency Address - ETH
0x2222022220222202222022220222202222022220`

	out, err := regexExtractor{}.Extract([]byte(text))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0x2222022220222202222022220222202222022220", out[0].Address)
}
