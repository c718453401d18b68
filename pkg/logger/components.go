package logger

// Component name constants for standardized logging
const (
	// Core components
	ComponentCore              = "Core"
	ComponentSupervisor        = "Supervisor"
	ComponentWatchdog          = "Watchdog"
	ComponentStarvationChecker = "StarveCheck"

	// State machine components
	ComponentMachine  = "Machine"
	ComponentRegistry = "Registry"
	ComponentGuards   = "Guards"

	// Monitoring components
	ComponentSiteMonitor = "SiteMonitor"
	ComponentHostMonitor = "HostMonitor"
	ComponentJournal     = "Journal"

	// Simulated hardware
	ComponentSimMount  = "SimMount"
	ComponentSimDome   = "SimDome"
	ComponentSimCamera = "SimCamera"

	// Configuration and API
	ComponentConfigManager = "ConfigManager"
	ComponentAPI           = "API"
)
