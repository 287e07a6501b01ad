// Package fbgemm implements a grouped General Matrix Multiply (GEMM) over a
// ragged batch of independently sized problems, executed by a single fused
// persistent launch instead of one launch per group.
//
// The execution model mirrors a modern GPU: the device exposes a fixed number
// of streaming multiprocessors, a launch starts exactly one persistent worker
// per multiprocessor, and each worker strides a linear tile index space that
// spans every group. On this backend the device is the CPU, so workers are
// goroutines, device memory is pool-allocated host memory behind DevicePtr,
// and 2D block-copy descriptors are emulated in software with the same
// masking and fencing semantics as the hardware descriptor engine.
//
// Two numeric paths are provided:
//
//	y, err := fbgemm.GroupedGEMM(a, b, mOffsets)                           // bf16 in, bf16 out
//	y, err := fbgemm.GroupedGEMMFP8Rowwise(a, b, mOffsets, aScale, bScale) // fp8 in, bf16 out
//
// A is [M, K] and C is [M, N]; group g owns rows [mOffsets[g-1], mOffsets[g])
// of both (0 lower bound for g = 0) and the row slice B[g*N : (g+1)*N, :].
// The fp8 path dequantizes with one scale per row of A and one per row of B,
// as produced by QuantizeFP8Row.
package fbgemm
