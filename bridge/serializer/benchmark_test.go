package serializer

import (
	"testing"

	"github.com/ValentinKolb/dBridge/bridge/common"
)

// benchmarkRequests returns a set of requests for targeted benchmarking
func benchmarkRequests() map[string]*common.Request {
	return map[string]*common.Request{
		"Empty":       common.NewRequest(1, 1, nil),
		"SmallString": common.NewRequest(2, 1, []any{"/a.txt"}),
		"MediumArgs": common.NewRequest(3, 1, []any{
			"/some/medium/length/path/for/testing.txt", int64(4096), true,
		}),
		"LargeBytes":     common.NewRequest(4, 1, []any{"/big.bin", make([]byte, 1024)}),
		"VeryLargeBytes": common.NewRequest(4, 1, []any{"/big.bin", make([]byte, 1024*16)}),
		"NestedRecord": common.NewRequest(5, 1, []any{map[string]any{
			"kind":    "file",
			"size":    int64(7),
			"mode":    uint32(0644),
			"entries": []any{"a", "b", "c", "d"},
		}}),
	}
}

// BenchmarkEncodeRequest benchmarks request encoding
func BenchmarkEncodeRequest(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for reqName, req := range benchmarkRequests() {
			b.Run(name+"/"+reqName, func(b *testing.B) {
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := s.EncodeRequest(req); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkDecodeRequest benchmarks request decoding
func BenchmarkDecodeRequest(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for reqName, req := range benchmarkRequests() {
			data, err := s.EncodeRequest(req)
			if err != nil {
				b.Fatal(err)
			}
			b.Run(name+"/"+reqName, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(data)))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := s.DecodeRequest(data); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkEncodedSize reports the encoded size of every request per codec
func BenchmarkEncodedSize(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for reqName, req := range benchmarkRequests() {
			b.Run(name+"/"+reqName, func(b *testing.B) {
				var size int
				for i := 0; i < b.N; i++ {
					data, err := s.EncodeRequest(req)
					if err != nil {
						b.Fatal(err)
					}
					size = len(data)
				}
				b.ReportMetric(float64(size), "bytes/msg")
			})
		}
	}
}
