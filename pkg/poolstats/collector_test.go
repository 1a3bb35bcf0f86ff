package poolstats

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type mockStater struct {
	stats stat
}

func (m *mockStater) Stat() stat {
	return m.stats
}

var _ stat = (*pgxStatMock)(nil)

type pgxStatMock struct {
	acquireCount            int64
	acquireDuration         time.Duration
	canceledAcquireCount    int64
	emptyAcquireCount       int64
	acquiredConns           int32
	constructingConns       int32
	idleConns               int32
	maxConns                int32
	totalConns              int32
	newConnsCount           int64
	maxLifetimeDestroyCount int64
	maxIdleDestroyCount     int64
}

func (m *pgxStatMock) AcquireCount() int64 {
	return m.acquireCount
}

func (m *pgxStatMock) AcquireDuration() time.Duration {
	return m.acquireDuration
}

func (m *pgxStatMock) AcquiredConns() int32 {
	return m.acquiredConns
}

func (m *pgxStatMock) CanceledAcquireCount() int64 {
	return m.canceledAcquireCount
}

func (m *pgxStatMock) ConstructingConns() int32 {
	return m.constructingConns
}

func (m *pgxStatMock) EmptyAcquireCount() int64 {
	return m.emptyAcquireCount
}

func (m *pgxStatMock) IdleConns() int32 {
	return m.idleConns
}

func (m *pgxStatMock) MaxConns() int32 {
	return m.maxConns
}

func (m *pgxStatMock) TotalConns() int32 {
	return m.totalConns
}

func (m *pgxStatMock) NewConnsCount() int64 {
	return m.newConnsCount
}

func (m *pgxStatMock) MaxLifetimeDestroyCount() int64 {
	return m.maxLifetimeDestroyCount
}

func (m *pgxStatMock) MaxIdleDestroyCount() int64 {
	return m.maxIdleDestroyCount
}

func TestDescribe(t *testing.T) {
	expectedDescriptorCount := 12
	timeout := time.After(time.Second * 5)
	stater := &mockStater{&pgxStatMock{}}
	statFn := func() stat { return stater.Stat() }
	testObject := newCollector(statFn, t.Name())

	ch := make(chan *prometheus.Desc)
	go testObject.Describe(ch)

	uniqueDescriptors := make(map[string]struct{})
	for i := 0; i < expectedDescriptorCount; i++ {
		select {
		case desc := <-ch:
			uniqueDescriptors[desc.String()] = struct{}{}
		case <-timeout:
			t.Fatalf("timed out waiting for %d'th descriptor", i)
		}
	}
	if got, want := len(uniqueDescriptors), expectedDescriptorCount; got != want {
		t.Errorf("got: %d unique descriptors; want: %d", got, want)
	}
}

func TestCollect(t *testing.T) {
	timeout := time.After(time.Second * 5)
	mock := &pgxStatMock{
		acquireCount:            1,
		acquireDuration:         2 * time.Second,
		acquiredConns:           3,
		canceledAcquireCount:    4,
		constructingConns:       5,
		emptyAcquireCount:       6,
		idleConns:               7,
		maxConns:                8,
		totalConns:              9,
		newConnsCount:           10,
		maxLifetimeDestroyCount: 11,
		maxIdleDestroyCount:     12,
	}
	stater := &mockStater{mock}
	statFn := func() stat { return stater.Stat() }
	testObject := newCollector(statFn, t.Name())

	want := map[string]float64{
		"pgxpool_acquire_count":                  1,
		"pgxpool_acquire_duration_seconds_total": 2,
		"pgxpool_acquired_conns":                 3,
		"pgxpool_canceled_acquire_count":         4,
		"pgxpool_constructing_conns":             5,
		"pgxpool_empty_acquire":                  6,
		"pgxpool_idle_conns":                     7,
		"pgxpool_max_conns":                      8,
		"pgxpool_total_conns":                    9,
		"pgxpool_new_conns_count":                10,
		"pgxpool_max_lifetime_destroy_count":     11,
		"pgxpool_max_idle_destroy_count":         12,
	}

	ch := make(chan prometheus.Metric)
	go testObject.Collect(ch)

	expectedMetricCount := len(want)
	for i := 0; i < expectedMetricCount; i++ {
		select {
		case m := <-ch:
			var pb dto.Metric
			if err := m.Write(&pb); err != nil {
				t.Fatalf("failed to write metric: %v", err)
			}
			name := m.Desc().String()
			var got float64
			switch {
			case pb.Counter != nil:
				got = pb.Counter.GetValue()
			case pb.Gauge != nil:
				got = pb.Gauge.GetValue()
			}
			var matched bool
			for k, v := range want {
				if strings.Contains(name, k+`"`) {
					if got != v {
						t.Errorf("%s: got %v; want %v", k, got, v)
					}
					delete(want, k)
					matched = true
					break
				}
			}
			if !matched {
				t.Errorf("unexpected metric: %s", name)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %d'th metric", i)
		}
	}
	if len(want) != 0 {
		t.Errorf("metrics not collected: %v", want)
	}
}
