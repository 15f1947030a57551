package messaging

// Topic constants for the ledger messaging system
const (
	// Submission workflow topics
	TopicTransactions       = "coal.transactions"        // clients → ledgerd
	TopicTransactionResults = "coal.transaction_results" // ledgerd → clients

	// Event topics
	TopicMineEvents  = "coal.mine_events"  // ledgerd → indexers
	TopicResetEvents = "coal.reset_events" // ledgerd → indexers
)
