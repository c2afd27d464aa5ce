//go:build webgpu

package device

import "fmt"

// Every kernel reads the descriptor record from binding 0 and the group
// index from binding 1. Half-precision tensors travel as packed u32 words,
// two elements per word, low half first; outputs and aux words are OR-ed in
// atomically because neighbouring elements share a word.
const shaderPrelude = `
@group(0) @binding(0) var<storage, read> desc : array<i32, 18>;
@group(0) @binding(1) var<uniform> grp : vec4<u32>;

const D_N: u32 = 0u;
const D_CIN: u32 = 1u;
const D_COUT: u32 = 2u;
const D_Y: u32 = 7u;
const D_X: u32 = 8u;
const D_K: u32 = 10u;
const D_G: u32 = 11u;
const D_RELU: u32 = 13u;
const D_STRIDE: u32 = 14u;
const D_PAD: u32 = 15u;
const D_PK: u32 = 17u;

const WG: u32 = 256u;
const NEG_INF_BITS: u32 = 0xff800000u;

fn du(i: u32) -> u32 { return u32(desc[i]); }

fn thread_index(gid: vec3<u32>, nwg: vec3<u32>) -> u32 {
	return gid.x + gid.y * nwg.x * WG;
}

fn pooled_dim() -> u32 {
	return u32(ceil(f32(desc[D_Y] - desc[D_PK]) / 2.0)) + 1u;
}
`

// halfLoader returns a function reading element i of a packed half buffer.
func halfLoader(fn, buf string) string {
	return fmt.Sprintf(`
fn %s(i: u32) -> f32 {
	return unpack2x16float(%s[i >> 1u])[i & 1u];
}
`, fn, buf)
}

const storeOutput = `
fn store_out(i: u32, v: f32) {
	let bits = pack2x16float(vec2<f32>(v, 0.0)) & 0xffffu;
	atomicOr(&output[i >> 1u], bits << (16u * (i & 1u)));
}
`

const convForwardShader = `
@group(0) @binding(2) var<storage, read> input : array<u32>;
@group(0) @binding(3) var<storage, read> weights : array<u32>;
@group(0) @binding(4) var<storage, read> bias : array<u32>;
@group(0) @binding(5) var<storage, read_write> output : array<atomic<u32>>;
@group(0) @binding(6) var<storage, read_write> aux : array<atomic<u32>>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
	let N = du(D_N);
	let CIN = du(D_CIN);
	let COUT = du(D_COUT);
	let G = du(D_G);
	let Y = du(D_Y);
	let X = du(D_X);
	let K = du(D_K);
	let S = desc[D_STRIDE];
	let P = desc[D_PAD];

	let idx = thread_index(gid, nwg);
	if (idx >= N * COUT * Y * X) { return; }

	let n = idx % N;
	var r = idx / N;
	let o = r % COUT;
	r = r / COUT;
	let x = r % X;
	let y = r / X;

	let oc = o + COUT * grp.x;
	let khead = CIN * grp.x;
	let ctot = CIN * G;
	let sub = CIN / 4u;

	var sum: f32 = 0.0;
	for (var p: u32 = 0u; p < K; p++) {
		let iy = i32(y) * S - P + i32(p);
		if (iy < 0 || iy >= i32(Y)) { continue; }
		for (var q: u32 = 0u; q < K; q++) {
			let ix = i32(x) * S - P + i32(q);
			if (ix < 0 || ix >= i32(X)) { continue; }
			for (var c: u32 = 0u; c < CIN; c++) {
				let wi = ((oc * K + p) * K + q) * CIN + (c % sub) * 4u + c / sub;
				let ii = ((u32(iy) * X + u32(ix)) * ctot + c + khead) * N + n;
				sum += load_weights(wi) * load_input(ii);
			}
		}
	}

	var v = sum + load_bias(oc);
	let oi = ((y * X + x) * COUT * G + oc) * N + n;
	if (desc[D_RELU] != 0) {
		if (v > 0.0) {
			atomicOr(&aux[oi >> 5u], 1u << (oi & 31u));
		} else {
			v = 0.0;
		}
	}
	store_out(oi, v);
}
`

const convBackwardShader = `
@group(0) @binding(2) var<storage, read> input : array<u32>;
@group(0) @binding(3) var<storage, read> weights : array<u32>;
@group(0) @binding(5) var<storage, read_write> output : array<atomic<u32>>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
	let N = du(D_N);
	let CIN = du(D_CIN);
	let COUT = du(D_COUT);
	let G = du(D_G);
	let Y = du(D_Y);
	let X = du(D_X);
	let K = du(D_K);
	let S = desc[D_STRIDE];
	let P = desc[D_PAD];

	let idx = thread_index(gid, nwg);
	if (idx >= COUT * K * K * CIN) { return; }

	let c = idx % CIN;
	var r = idx / CIN;
	let kx = r % K;
	r = r / K;
	let ky = r % K;
	let o = r / K;

	let oc = o + COUT * grp.x;
	let khead = CIN * grp.x;
	let ctot = CIN * G;
	let otot = COUT * G;
	let sub = CIN / 4u;

	var sum: f32 = 0.0;
	for (var py: u32 = 0u; py < Y; py++) {
		let iy = i32(ky) * S - P + i32(py);
		if (iy < 0 || iy >= i32(Y)) { continue; }
		for (var px: u32 = 0u; px < X; px++) {
			let ix = i32(kx) * S - P + i32(px);
			if (ix < 0 || ix >= i32(X)) { continue; }
			for (var n: u32 = 0u; n < N; n++) {
				let grad = load_weights(((py * X + px) * otot + oc) * N + n);
				sum += grad * load_input(((u32(iy) * X + u32(ix)) * ctot + c + khead) * N + n);
			}
		}
	}
	store_out(((oc * K + ky) * K + kx) * CIN + (c % sub) * 4u + c / sub, sum);
}
`

const poolForwardShader = `
@group(0) @binding(2) var<storage, read> input : array<u32>;
@group(0) @binding(5) var<storage, read_write> output : array<atomic<u32>>;
@group(0) @binding(6) var<storage, read_write> aux : array<atomic<u32>>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
	let N = du(D_N);
	let CIN = du(D_CIN);
	let G = du(D_G);
	let Y = du(D_Y);
	let X = du(D_X);
	let PK = du(D_PK);
	let PD = pooled_dim();

	let idx = thread_index(gid, nwg);
	if (idx >= N * CIN * PD * PD) { return; }

	let n = idx % N;
	var r = idx / N;
	let c = r % CIN + CIN * grp.x;
	r = r / CIN;
	let pw = r % PD;
	let ph = r / PD;
	let ctot = CIN * G;

	let hs = ph * 2u;
	let ws = pw * 2u;
	let he = min(hs + PK, Y);
	let we = min(ws + PK, X);

	var best = bitcast<f32>(NEG_INF_BITS);
	var code: u32 = 0u;
	for (var h = hs; h < he; h++) {
		for (var w = ws; w < we; w++) {
			let v = load_input(((h * X + w) * ctot + c) * N + n);
			if (v > best) {
				best = v;
				code = (h - hs) * 3u + (w - ws);
			}
		}
	}

	let oi = ((ph * PD + pw) * ctot + c) * N + n;
	store_out(oi, best);
	atomicOr(&aux[oi >> 1u], code << (16u * (oi & 1u)));
}
`

// Backward pooling gathers: every input position sums the gradients of the
// windows whose code names it, so no two threads write one element.
const poolBackwardShader = `
@group(0) @binding(2) var<storage, read> input : array<u32>;
@group(0) @binding(5) var<storage, read_write> output : array<atomic<u32>>;
@group(0) @binding(6) var<storage, read> aux : array<u32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
	let N = du(D_N);
	let CIN = du(D_CIN);
	let G = du(D_G);
	let Y = du(D_Y);
	let X = du(D_X);
	let PD = pooled_dim();

	let idx = thread_index(gid, nwg);
	if (idx >= N * CIN * Y * X) { return; }

	let n = idx % N;
	var r = idx / N;
	let c = r % CIN + CIN * grp.x;
	r = r / CIN;
	let w = r % X;
	let h = r / X;
	let ctot = CIN * G;

	var sum: f32 = 0.0;
	for (var ph: u32 = 0u; ph < PD; ph++) {
		let hs = ph * 2u;
		if (h < hs || h > hs + 2u) { continue; }
		for (var pw: u32 = 0u; pw < PD; pw++) {
			let ws = pw * 2u;
			if (w < ws || w > ws + 2u) { continue; }
			let oi = ((ph * PD + pw) * ctot + c) * N + n;
			let code = (aux[oi >> 1u] >> (16u * (oi & 1u))) & 0xffffu;
			if (hs + code / 3u == h && ws + code % 3u == w) {
				sum += load_input(oi);
			}
		}
	}
	store_out(((h * X + w) * ctot + c) * N + n, sum);
}
`

// kernelSource assembles the shader for the mode of d.
func kernelSource(pool, backward bool) string {
	src := shaderPrelude + halfLoader("load_input", "input") + storeOutput
	switch {
	case pool && backward:
		return src + poolBackwardShader
	case pool:
		return src + poolForwardShader
	case backward:
		return src + halfLoader("load_weights", "weights") + convBackwardShader
	default:
		return src + halfLoader("load_weights", "weights") + halfLoader("load_bias", "bias") + convForwardShader
	}
}
