package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

const testAddr = "AA:BB:CC:DD:EE:FF"

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = time.Millisecond
	return opts
}

// newTestTransport returns a transport whose sleeps are recorded instead of slept.
func newTestTransport(adapter Adapter, opts Options) (*Transport, *[]time.Duration) {
	tr := NewTransport(adapter, opts, nil)
	var sleeps []time.Duration
	tr.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return tr, &sleeps
}

func printerConn(props Properties) (*mockConnection, *mockCharacteristic) {
	char := &mockCharacteristic{uuid: DefaultWriteCharUUID, props: props}
	return &mockConnection{chars: []Characteristic{char}}, char
}

func TestSendWritesAllChunksInOrder(t *testing.T) {
	conn, char := printerConn(PropWriteWithoutResponse)
	adapter := newMockAdapter([]Device{{Name: "PT-210", Address: testAddr}}, conn)
	tr, sleeps := newTestTransport(adapter, testOptions())

	payload := bytes.Repeat([]byte("0123456789"), 5) // 50 bytes
	if err := tr.Send(context.Background(), testAddr, payload, PayloadText); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	writes := char.written()
	if len(writes) != 3 {
		t.Fatalf("got %d writes, want 3", len(writes))
	}
	for i, n := range []int{20, 20, 10} {
		if len(writes[i]) != n {
			t.Errorf("write[%d] len = %d, want %d", i, len(writes[i]), n)
		}
	}
	if got := bytes.Join(writes, nil); !bytes.Equal(got, payload) {
		t.Errorf("written bytes differ from payload")
	}
	if len(*sleeps) != 2 {
		t.Errorf("got %d gaps, want 2 (between chunks only)", len(*sleeps))
	}
	if conn.disconnectCount() != 1 {
		t.Errorf("Disconnect called %d times, want 1", conn.disconnectCount())
	}
}

func TestSendAddressCaseInsensitive(t *testing.T) {
	conn, char := printerConn(PropWriteWithoutResponse)
	adapter := newMockAdapter([]Device{{Address: "aa:bb:cc:dd:ee:ff"}}, conn)
	tr, _ := newTestTransport(adapter, testOptions())

	if err := tr.Send(context.Background(), testAddr, []byte("hi"), PayloadText); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(char.written()) != 1 {
		t.Errorf("got %d writes, want 1", len(char.written()))
	}
}

func TestSendImageProfile(t *testing.T) {
	conn, char := printerConn(PropWriteWithoutResponse)
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	tr, sleeps := newTestTransport(adapter, testOptions())

	payload := make([]byte, 250)
	if err := tr.Send(context.Background(), testAddr, payload, PayloadImage); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := len(char.written()); got != 3 {
		t.Errorf("got %d writes, want 3", got)
	}
	for _, d := range *sleeps {
		if d != DefaultOptions().Image.WriteGap {
			t.Errorf("gap = %v, want %v", d, DefaultOptions().Image.WriteGap)
		}
	}
}

func TestSendWithResponseSkipsGap(t *testing.T) {
	conn, char := printerConn(PropWrite)
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	opts := testOptions()
	opts.Text.WithResponse = true
	tr, sleeps := newTestTransport(adapter, opts)

	if err := tr.Send(context.Background(), testAddr, make([]byte, 45), PayloadText); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(*sleeps) != 0 {
		t.Errorf("got %d gaps, want 0 with acknowledged writes", len(*sleeps))
	}
	for i, r := range char.responses {
		if !r {
			t.Errorf("write[%d] withResponse = false, want true", i)
		}
	}
}

func TestSendDeviceNotFoundRetriesWithoutWriting(t *testing.T) {
	conn, char := printerConn(PropWriteWithoutResponse)
	adapter := newMockAdapter([]Device{{Address: "11:22:33:44:55:66"}}, conn)
	tr, sleeps := newTestTransport(adapter, testOptions())

	err := tr.Send(context.Background(), testAddr, []byte("hello"), PayloadText)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Send() error = %v, want ErrDeviceNotFound", err)
	}
	scans, connects := adapter.counts()
	if scans != 3 {
		t.Errorf("scans = %d, want 3 (1 + 2 retries)", scans)
	}
	if connects != 0 {
		t.Errorf("connects = %d, want 0", connects)
	}
	if len(char.written()) != 0 {
		t.Errorf("wrote %d chunks, want 0", len(char.written()))
	}
	if len(*sleeps) != 2 {
		t.Errorf("retry delays = %d, want 2", len(*sleeps))
	}
}

func TestSendConnectErrorRetried(t *testing.T) {
	conn, _ := printerConn(PropWriteWithoutResponse)
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	adapter.connectErr = errors.New("le-connection-abort-by-local")
	opts := testOptions()
	opts.Retries = 1
	tr, _ := newTestTransport(adapter, opts)

	err := tr.Send(context.Background(), testAddr, []byte("hello"), PayloadText)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Send() error = %v, want ErrConnect", err)
	}
	if _, connects := adapter.counts(); connects != 2 {
		t.Errorf("connects = %d, want 2", connects)
	}
}

func TestSendNotConnectedHandle(t *testing.T) {
	conn, _ := printerConn(PropWriteWithoutResponse)
	conn.notConnected = true
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	opts := testOptions()
	opts.Retries = 0
	tr, _ := newTestTransport(adapter, opts)

	err := tr.Send(context.Background(), testAddr, []byte("hello"), PayloadText)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Send() error = %v, want ErrConnect", err)
	}
	if conn.disconnectCount() != 1 {
		t.Errorf("Disconnect called %d times, want 1", conn.disconnectCount())
	}
}

func TestSendAdapterUnavailable(t *testing.T) {
	adapter := newMockAdapter(nil, nil)
	adapter.enableErr = errors.New("bluetooth is powered off")
	opts := testOptions()
	opts.Retries = 0
	tr, _ := newTestTransport(adapter, opts)

	err := tr.Send(context.Background(), testAddr, []byte("hello"), PayloadText)
	if !errors.Is(err, ErrAdapter) {
		t.Fatalf("Send() error = %v, want ErrAdapter", err)
	}
}

func TestSendWriteErrorNotRetried(t *testing.T) {
	conn, char := printerConn(PropWriteWithoutResponse)
	char.failAt = 2
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	tr, _ := newTestTransport(adapter, testOptions())

	err := tr.Send(context.Background(), testAddr, make([]byte, 60), PayloadText)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("Send() error = %v, want ErrWrite", err)
	}
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("Send() error = %T, want *WriteError", err)
	}
	if we.Chunk != 1 || we.Sent != 20 {
		t.Errorf("WriteError = chunk %d sent %d, want chunk 1 sent 20", we.Chunk, we.Sent)
	}
	if _, connects := adapter.counts(); connects != 1 {
		t.Errorf("connects = %d, want 1 (no retry after writing began)", connects)
	}
	if conn.disconnectCount() != 1 {
		t.Errorf("Disconnect called %d times, want 1", conn.disconnectCount())
	}
}

func TestSendFirstWriteFailureNotRetried(t *testing.T) {
	conn, char := printerConn(PropWriteWithoutResponse)
	char.failAt = 1
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	tr, _ := newTestTransport(adapter, testOptions())

	err := tr.Send(context.Background(), testAddr, []byte("hello"), PayloadText)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("Send() error = %v, want ErrWrite", err)
	}
	if _, connects := adapter.counts(); connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestSendNoWritableCharacteristic(t *testing.T) {
	conn := &mockConnection{chars: []Characteristic{
		&mockCharacteristic{uuid: "00002a00-0000-1000-8000-00805f9b34fb", props: 0},
	}}
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	opts := testOptions()
	opts.Retries = 1
	tr, _ := newTestTransport(adapter, opts)

	err := tr.Send(context.Background(), testAddr, []byte("hello"), PayloadText)
	if !errors.Is(err, ErrNoWritableCharacteristic) {
		t.Fatalf("Send() error = %v, want ErrNoWritableCharacteristic", err)
	}
	if conn.disconnectCount() != 2 {
		t.Errorf("Disconnect called %d times, want 2", conn.disconnectCount())
	}
}

func TestSendEmptyAddress(t *testing.T) {
	tr, _ := newTestTransport(newMockAdapter(nil, nil), testOptions())
	if err := tr.Send(context.Background(), " ", []byte("x"), PayloadText); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Send() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSelectCharacteristic(t *testing.T) {
	plain := &mockCharacteristic{uuid: "00002a00-0000-1000-8000-00805f9b34fb"}
	write := &mockCharacteristic{uuid: "0000ff02-0000-1000-8000-00805f9b34fb", props: PropWrite}
	noResp := &mockCharacteristic{uuid: "0000fff2-0000-1000-8000-00805f9b34fb", props: PropWriteWithoutResponse}
	unflaggedKnown := &mockCharacteristic{uuid: "49535343-8841-43f4-a8d4-ecbe34729bb3"}
	unflaggedDefault := &mockCharacteristic{uuid: DefaultWriteCharUUID}

	tests := []struct {
		name       string
		chars      []Characteristic
		configured string
		want       Characteristic
		wantErr    bool
	}{
		{name: "prefers write without response", chars: []Characteristic{plain, write, noResp}, want: noResp},
		{name: "falls back to write", chars: []Characteristic{plain, write}, want: write},
		{name: "configured wins", chars: []Characteristic{write, noResp}, configured: "0000FF02-0000-1000-8000-00805F9B34FB", want: write},
		{name: "configured missing", chars: []Characteristic{write, noResp}, configured: "0000ff82-0000-1000-8000-00805f9b34fb", wantErr: true},
		{name: "known list when unflagged", chars: []Characteristic{plain, unflaggedKnown, unflaggedDefault}, want: unflaggedDefault},
		{name: "none writable", chars: []Characteristic{plain}, wantErr: true},
		{name: "empty", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectCharacteristic(&mockConnection{chars: tt.chars}, tt.configured)
			if tt.wantErr {
				if !errors.Is(err, ErrNoWritableCharacteristic) {
					t.Fatalf("selectCharacteristic() error = %v, want ErrNoWritableCharacteristic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("selectCharacteristic() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("selectCharacteristic() = %s, want %s", got.UUID(), tt.want.UUID())
			}
		})
	}
}

func TestIsAvailable(t *testing.T) {
	conn, char := printerConn(PropWriteWithoutResponse)
	adapter := newMockAdapter([]Device{{Address: testAddr}}, conn)
	tr, _ := newTestTransport(adapter, testOptions())

	if !tr.IsAvailable(context.Background(), "aa:bb:cc:dd:ee:ff") {
		t.Error("IsAvailable() = false, want true")
	}
	if tr.IsAvailable(context.Background(), "11:22:33:44:55:66") {
		t.Error("IsAvailable() = true for absent device, want false")
	}
	if tr.IsAvailable(context.Background(), "") {
		t.Error("IsAvailable() = true for empty address, want false")
	}
	if _, connects := adapter.counts(); connects != 0 {
		t.Errorf("connects = %d, want 0", connects)
	}
	if len(char.written()) != 0 {
		t.Errorf("probe wrote %d chunks, want 0", len(char.written()))
	}
}

func TestIsAvailableAdapterOff(t *testing.T) {
	adapter := newMockAdapter([]Device{{Address: testAddr}}, nil)
	adapter.enableErr = errors.New("off")
	tr, _ := newTestTransport(adapter, testOptions())
	if tr.IsAvailable(context.Background(), testAddr) {
		t.Error("IsAvailable() = true with adapter off, want false")
	}
}

func TestIsPreWrite(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrDeviceNotFound, true},
		{ErrConnect, true},
		{ErrNoWritableCharacteristic, true},
		{ErrAdapter, true},
		{&WriteError{Err: errors.New("x")}, false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		if got := IsPreWrite(tt.err); got != tt.want {
			t.Errorf("IsPreWrite(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateWriting.String() != "writing" {
		t.Errorf("StateWriting = %q, want %q", StateWriting.String(), "writing")
	}
}
