package config

const (
	defaultStagingRoot    = "~/.local/share/labsync/staging"
	defaultScratchDir     = "~/.local/share/labsync/scratch"
	defaultLogDir         = "~/.local/share/labsync/logs"
	defaultDatabasePath   = "~/.local/share/labsync/labsync.db"
	defaultPathRule       = "{subject}/{session}/{dataset}"
	defaultParallelism    = 8
	defaultPollInterval   = 15
	defaultComputeTarget  = "local"
	defaultSorterCommand  = "spks-sort"
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	defaultUploadStorage  = "data"
	defaultStorageRegion  = "us-west-2"
	defaultStorageProto   = "s3"
	defaultStorageBucketA = "lab-data"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LocalRoots:  []string{"~/data"},
			StagingRoot: defaultStagingRoot,
			ScratchDir:  defaultScratchDir,
			LogDir:      defaultLogDir,
			PathRule:    defaultPathRule,
		},
		Database: Database{
			Path: defaultDatabasePath,
		},
		Upload: Upload{
			Storage:     defaultUploadStorage,
			Parallelism: defaultParallelism,
		},
		Storage: map[string]StorageTarget{
			defaultUploadStorage: {
				Protocol: defaultStorageProto,
				Region:   defaultStorageRegion,
				Bucket:   defaultStorageBucketA,
			},
		},
		Compute: Compute{
			DefaultTarget: defaultComputeTarget,
			SorterCommand: defaultSorterCommand,
		},
		Worker: Worker{
			PollInterval: defaultPollInterval,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
