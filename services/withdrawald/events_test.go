package withdrawald

import (
	"testing"

	"github.com/stretchr/testify/require"

	"creditchain/core/types"
)

func TestSubjectFor(t *testing.T) {
	require.Equal(t, "creditchain.withdrawals.withdrawal.pooled", subjectFor("creditchain.withdrawals", "withdrawal.pooled"))
	require.Equal(t, "creditchain.withdrawals.unknown", subjectFor("creditchain.withdrawals.", " "))
}

func TestMessageIDDistinguishesAttempts(t *testing.T) {
	first := &types.Event{Type: "withdrawal.broadcasted", Attributes: map[string]string{"id": "ab", "height": "7", "attempts": "1"}}
	retry := &types.Event{Type: "withdrawal.broadcasted", Attributes: map[string]string{"id": "ab", "height": "9", "attempts": "2"}}
	require.Equal(t, "withdrawal.broadcasted:ab:7:1", messageID(first))
	require.NotEqual(t, messageID(first), messageID(retry))
}

func TestNewNATSPublisherRequiresURL(t *testing.T) {
	_, err := NewNATSPublisher(NATSConfig{}, nil)
	require.Error(t, err)
}
