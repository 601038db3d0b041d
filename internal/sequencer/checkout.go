package sequencer

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/wavelet"
)

// sign chains the version of a delta of ops applied at prev.
func sign(prev types.HashedVersion, ops []wavelet.Op) (types.HashedVersion, error) {
	payload, err := json.Marshal(ops)
	if err != nil {
		return types.HashedVersion{}, errors.Wrap(err, "encoding ops")
	}
	return types.NextVersion(prev, len(ops), payload), nil
}

// checkout replays records from the empty wavelet, checking that they are
// contiguous and that every hash matches the chain.
func checkout(initial types.HashedVersion, records []Record) (*opLog, *wavelet.Wavelet, error) {
	history := newOpLog(initial)
	state := wavelet.New()
	for _, r := range records {
		d := r.Delta
		head := history.head()
		if d.AppliedAt != head.Version {
			return nil, nil, errors.Errorf("delta applied at %d does not follow %s", d.AppliedAt, head)
		}
		want, err := sign(head, d.Ops)
		if err != nil {
			return nil, nil, err
		}
		if want != d.Resulting {
			return nil, nil, errors.Errorf("delta at %d signed %s, chain gives %s", d.AppliedAt, d.Resulting, want)
		}
		for _, op := range d.Ops {
			if err := wavelet.Apply(op, state); err != nil {
				return nil, nil, errors.Wrapf(err, "replaying delta at %d", d.AppliedAt)
			}
		}
		history.append(r)
	}
	return history, state, nil
}
