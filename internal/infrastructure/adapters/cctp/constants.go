package cctp

const (
	// API Hosts
	IrisMainnetURL = "https://iris-api.circle.com"
	IrisSandboxURL = "https://iris-api-sandbox.circle.com"

	// Rate limiting
	MaxRequestsPerSecond = 35

	// Attestation statuses
	AttestationStatusPending              = "pending"
	AttestationStatusPendingConfirmations = "pending_confirmations"
	AttestationStatusComplete             = "complete"

	// USDC and the CCTP messages use 6 decimals
	USDCDecimals = 6
)

// Contract ABIs, restricted to the methods and events the bridge uses
const (
	erc20ABI = `[
		{"type":"function","name":"approve","stateMutability":"nonpayable",
		 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
		 "outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"balanceOf","stateMutability":"view",
		 "inputs":[{"name":"account","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`

	tokenMessengerABI = `[
		{"type":"function","name":"depositForBurn","stateMutability":"nonpayable",
		 "inputs":[
			{"name":"amount","type":"uint256"},
			{"name":"destinationDomain","type":"uint32"},
			{"name":"mintRecipient","type":"bytes32"},
			{"name":"burnToken","type":"address"}],
		 "outputs":[{"name":"_nonce","type":"uint64"}]}
	]`

	messageTransmitterABI = `[
		{"type":"function","name":"receiveMessage","stateMutability":"nonpayable",
		 "inputs":[{"name":"message","type":"bytes"},{"name":"attestation","type":"bytes"}],
		 "outputs":[{"name":"success","type":"bool"}]},
		{"type":"function","name":"usedNonces","stateMutability":"view",
		 "inputs":[{"name":"","type":"bytes32"}],
		 "outputs":[{"name":"","type":"uint256"}]},
		{"type":"event","name":"MessageSent","anonymous":false,
		 "inputs":[{"name":"message","type":"bytes","indexed":false}]}
	]`
)
