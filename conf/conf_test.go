package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	defer Reset()

	assert.EqualValues(t, 11155111, GetChainID())
	assert.EqualValues(t, "sepolia", GetChainName())
	assert.EqualValues(t, "", GetContractAddress())

	assert.EqualValues(t, "http://127.0.0.1:9980", GetLedgerAPI())
	assert.EqualValues(t, "http://127.0.0.1:9981", GetProviderAPI())
	assert.EqualValues(t, "http://127.0.0.1:9982", GetGatewayAPI())

	assert.EqualValues(t, 5*time.Second, GetRequestTimeout())
	assert.EqualValues(t, 90*time.Second, GetConfirmTimeout())
	assert.EqualValues(t, 2*time.Second, GetConfirmPollInterval())

	assert.EqualValues(t, 3, GetReadRetries())
	assert.EqualValues(t, 500*time.Millisecond, GetReadRetryBackoff())

	assert.EqualValues(t, "", GetCacheDir())
	assert.EqualValues(t, "", GetSecret())
}

func TestUpdate(t *testing.T) {
	defer Reset()

	Update(
		WithChainID(31337),
		WithChainName("anvil"),
		WithContractAddress("0x477922afbac2a4184eb6452d7718cc4090cbc35a"),

		WithLedgerAPI("http://10.0.0.1:8545"),
		WithProviderAPI("http://10.0.0.1:8546"),
		WithGatewayAPI("http://10.0.0.1:8547"),

		WithRequestTimeout(10*time.Second),
		WithConfirmTimeout(2*time.Minute),
		WithConfirmPollInterval(time.Second),

		WithReadRetries(7),
		WithReadRetryBackoff(time.Second),

		WithCacheDir("/tmp/vibefeed"),
		WithSecret("shambles"),
	)

	assert.EqualValues(t, 31337, GetChainID())
	assert.EqualValues(t, "anvil", GetChainName())
	assert.EqualValues(t, "0x477922afbac2a4184eb6452d7718cc4090cbc35a", GetContractAddress())

	assert.EqualValues(t, "http://10.0.0.1:8545", GetLedgerAPI())
	assert.EqualValues(t, "http://10.0.0.1:8546", GetProviderAPI())
	assert.EqualValues(t, "http://10.0.0.1:8547", GetGatewayAPI())

	assert.EqualValues(t, 10*time.Second, GetRequestTimeout())
	assert.EqualValues(t, 2*time.Minute, GetConfirmTimeout())
	assert.EqualValues(t, time.Second, GetConfirmPollInterval())

	assert.EqualValues(t, 7, GetReadRetries())
	assert.EqualValues(t, time.Second, GetReadRetryBackoff())

	assert.EqualValues(t, "/tmp/vibefeed", GetCacheDir())
	assert.EqualValues(t, "shambles", GetSecret())
}
