package withdrawals

import (
	"fmt"
)

const withdrawalsPrefix = "withdrawals"

var (
	nextSeqKey     = []byte(withdrawalsPrefix + "/seq/next")
	nextTxIndexKey = []byte(withdrawalsPrefix + "/txindex/next")
	ledgerKey      = []byte(withdrawalsPrefix + "/ledger")
	windowKey      = []byte(withdrawalsPrefix + "/window")
)

func requestKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s/request/%d", withdrawalsPrefix, seq))
}

func requestIDKey(id RequestID) []byte {
	return []byte(fmt.Sprintf("%s/id/%x", withdrawalsPrefix, id[:]))
}

func txIndexKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s/txindex/%d", withdrawalsPrefix, index))
}

func statusIndexKey(status Status) []byte {
	return []byte(fmt.Sprintf("%s/status/%s", withdrawalsPrefix, status))
}

func statusBucketKey(status Status, bucket uint64) []byte {
	return []byte(fmt.Sprintf("%s/status/%s/%d", withdrawalsPrefix, status, bucket))
}

func statusCountKey(status Status) []byte {
	return []byte(fmt.Sprintf("%s/status/%s/count", withdrawalsPrefix, status))
}
